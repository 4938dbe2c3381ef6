// Package server exposes prescription transcription as MCP (Model Context
// Protocol) tools.
//
// The server speaks JSON-RPC 2.0 over stdio, one request per line on stdin
// and one response per line on stdout. Logs must therefore go to stderr.
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Prescription Operations:
//   - prescription_transcribe: Full pipeline; transcript, regions and an
//     annotated JPEG returned as an MCP image block
//   - prescription_detect: Ordered, deduplicated regions only
//
// Basic Image Information:
//   - image_load: Load image and get metadata
//   - image_dimensions: Get width and height
//
// Region Operations:
//   - image_crop: Extract one region as PNG
//
// Prescription tools take either a file path or base64 image data. Decoding
// happens here; the pipeline only ever sees a decoded image.
//
// # Image Caching
//
// Images loaded by path are cached for the lifetime of the process. Inline
// base64 images are not cached.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
package server
