// Package api defines the wire types shared by the agentgraph HTTP surface
// and its clients.
//
// # API Overview
//
// agentgraph serves a small RESTful API:
//   - POST /api/v1/workflows/validate: validate a workflow template
//   - POST /api/v1/workflows/analyze: dependency analysis of a template
//   - POST /api/v1/graphs/validate: validate a persisted graph document
//   - /health, /healthz, /ready, /version: liveness and build information
//
// and consumes the execution service:
//   - POST /api/v1/executions: start an execution
//   - POST /api/v1/executions/{id}/cancel
//   - GET /api/v1/executions/{id}: status snapshot
//   - GET /api/v1/executions/{id}/stream: SSE or WebSocket event stream
//   - POST /api/v1/executions/{id}/interventions/{intervention_id}/respond
//
// # Authentication
//
// Calls to the execution service carry a bearer token:
//
//	Authorization: Bearer <token>
//
// # Responses
//
// Responses served by agentgraph use the Envelope type. The client accepts
// both enveloped and bare JSON bodies from the execution service.
package api
