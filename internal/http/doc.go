// Package http exposes the attendance engine over JSON/HTTP.
//
// The router exposes the following endpoints. Every route except /healthz requires
// the X-Actor-ID header set by the upstream gateway; X-Actor-Role: admin grants the
// ownership override.
//   - POST /sessions: opens a session. Body: {"teacher_id","course_id","lecture_date","lecture_number"}
//     where lecture_date is YYYY-MM-DD and teacher_id defaults to the caller. Returns the
//     `sessionDTO` defined in session_handler.go with 201.
//   - GET /sessions[?teacher_id=]: lists sessions newest lecture first.
//   - GET /sessions/{id}, GET /sessions/{id}/records: session detail and its records
//     ordered by student id.
//   - PUT /sessions/{id}/attendance: idempotent bulk mark. Body: {"marks":[{"student_id","status"}]}.
//     Responds {"session_id","updated_count"}; updated_count only counts real changes.
//   - POST /sessions/{id}/close: closes the session and returns the frozen aggregate.
//     409 responses carry error_code SESSION_ALREADY_CLOSED, with the frozen
//     aggregate in "aggregate", or CLOSE_CONFLICT with Retry-After.
//   - GET /reports[?teacher_id=], GET /reports/departments/{id}: attendance reports. The
//     department report is limited to administrators.
//   - GET /events[?teacher_id=]: websocket stream of `eventDTO` messages for the caller's
//     sessions.
//   - GET /healthz: pings the store.
//
// Error bodies share the `errorResponse` shape with Japanese messages; validation
// failures list per field messages under "errors".
package http
