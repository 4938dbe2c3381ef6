package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/ironsheep/rx-transcriber/internal/geometry"
	"github.com/ironsheep/rx-transcriber/internal/imaging"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "prescription_transcribe").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// attachment is implemented by tool results that carry an image to return
// as an MCP image content block next to the JSON text.
type attachment interface {
	attachedImage() (data, mimeType string)
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}, {"type": "image", ...}]
//	}
//
// The image block is only present for results that carry one. Tool execution
// errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.WithError(err).WithField("tool", params.Name).Warn("Tool execution failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	content := []map[string]interface{}{
		{
			"type": "text",
			"text": mustMarshalJSON(result),
		},
	}
	if a, ok := result.(attachment); ok {
		if data, mime := a.attachedImage(); data != "" {
			content = append(content, map[string]interface{}{
				"type":     "image",
				"data":     data,
				"mimeType": mime,
			})
		}
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": content,
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Prescription Operations
	case "prescription_transcribe":
		return s.handlePrescriptionTranscribe(ctx, args)
	case "prescription_detect":
		return s.handlePrescriptionDetect(ctx, args)

	// Basic Image Information
	case "image_load":
		return s.handleImageLoad(args)
	case "image_dimensions":
		return s.handleImageDimensions(args)

	// Region Operations
	case "image_crop":
		return s.handleImageCrop(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func unmarshalArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// === Prescription Handlers ===

type imageSourceArgs struct {
	Path        string `json:"path"`
	ImageBase64 string `json:"image_base64"`
}

// load returns the photo named by the arguments. Files go through the cache;
// inline data is decoded on every call.
func (s *Server) load(a imageSourceArgs) (image.Image, error) {
	switch {
	case a.Path != "":
		return s.cache.Load(a.Path)
	case a.ImageBase64 != "":
		return imaging.DecodeBase64(a.ImageBase64)
	default:
		return nil, errors.New("either path or image_base64 is required")
	}
}

// Region is a detected region as reported to MCP clients.
type Region struct {
	Box        geometry.Box   `json:"box"`
	Confidence float64        `json:"confidence"`
	Class      geometry.Class `json:"class"`
	ClassName  string         `json:"class_name"`
	Text       *string        `json:"text,omitempty"`
}

func newRegion(d geometry.Detection) Region {
	return Region{
		Box:        d.Box,
		Confidence: d.Confidence,
		Class:      d.Class,
		ClassName:  d.Class.String(),
	}
}

// TranscribeResult is the prescription_transcribe tool output.
type TranscribeResult struct {
	RequestID  string   `json:"request_id"`
	Transcript string   `json:"transcript"`
	Regions    []Region `json:"regions"`
	Skipped    []Region `json:"skipped,omitempty"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`

	annotated string
	mimeType  string
}

func (r *TranscribeResult) attachedImage() (string, string) {
	return r.annotated, r.mimeType
}

type transcribeArgs struct {
	imageSourceArgs
	IncludeImage *bool `json:"include_image"`
}

func (s *Server) handlePrescriptionTranscribe(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a transcribeArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if s.rx == nil {
		return nil, errors.New("no transcriber configured")
	}
	img, err := s.load(a.imageSourceArgs)
	if err != nil {
		return nil, err
	}

	res, err := s.rx.Run(ctx, img)
	if err != nil {
		return nil, err
	}

	out := &TranscribeResult{
		RequestID:  res.RequestID,
		Transcript: res.Transcript,
		Regions:    make([]Region, 0, len(res.Segments)),
		Width:      res.Width,
		Height:     res.Height,
	}
	for _, seg := range res.Segments {
		r := newRegion(seg.Detection)
		text := seg.Text
		r.Text = &text
		out.Regions = append(out.Regions, r)
	}
	for _, d := range res.Skipped {
		out.Skipped = append(out.Skipped, newRegion(d))
	}
	if a.IncludeImage == nil || *a.IncludeImage {
		out.annotated = res.AnnotatedImage
		out.mimeType = res.MimeType
	}
	return out, nil
}

// DetectResult is the prescription_detect tool output.
type DetectResult struct {
	Regions []Region `json:"regions"`
	Count   int      `json:"count"`
}

func (s *Server) handlePrescriptionDetect(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageSourceArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if s.rx == nil {
		return nil, errors.New("no transcriber configured")
	}
	img, err := s.load(a)
	if err != nil {
		return nil, err
	}

	dets, err := s.rx.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	regions := make([]Region, 0, len(dets))
	for _, d := range dets {
		regions = append(regions, newRegion(d))
	}
	return &DetectResult{Regions: regions, Count: len(regions)}, nil
}

// === Basic Image Information Handlers ===

type imageLoadArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageLoad(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

func (s *Server) handleImageDimensions(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return imaging.GetDimensions(s.cache, a.Path)
}

// === Region Operation Handlers ===

type imageCropArgs struct {
	Path string  `json:"path"`
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
}

// CropResult is the image_crop tool output.
type CropResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

func (s *Server) handleImageCrop(args json.RawMessage) (interface{}, error) {
	var a imageCropArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	// Same truncation as the pipeline uses for region crops
	box := geometry.Box{X1: a.X1, Y1: a.Y1, X2: a.X2, Y2: a.Y2}
	crop, err := imaging.CropRect(img, box.Rect())
	if err != nil {
		return nil, err
	}
	data, err := imaging.EncodePNG(crop)
	if err != nil {
		return nil, err
	}
	return &CropResult{
		Width:       crop.Bounds().Dx(),
		Height:      crop.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		MimeType:    "image/png",
	}, nil
}
