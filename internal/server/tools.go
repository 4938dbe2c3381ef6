package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// imageSourceProperties are shared by tools that accept either a file path
// or inline image data.
func imageSourceProperties() map[string]interface{} {
	return map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Absolute path to the prescription photo",
		},
		"image_base64": map[string]interface{}{
			"type":        "string",
			"description": "Base64 encoded photo (JPEG or PNG); a data: URI prefix is accepted. Used when path is empty",
		},
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	transcribeProps := imageSourceProperties()
	transcribeProps["include_image"] = map[string]interface{}{
		"type":        "boolean",
		"description": "Attach the annotated photo to the result. Default true",
		"default":     true,
	}

	return []Tool{
		// Prescription Operations
		{
			Name:        "prescription_transcribe",
			Description: "Transcribe a photo of a handwritten prescription. Returns the text of every detected region top to bottom, the regions themselves, and a copy of the photo with each region outlined and labelled.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": transcribeProps,
			},
		},
		{
			Name:        "prescription_detect",
			Description: "Locate the handwritten regions of a prescription photo without transcribing them. Regions are sorted top to bottom with duplicates removed.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": imageSourceProperties(),
			},
		},

		// Basic Image Information
		{
			Name:        "image_load",
			Description: "Load an image file and return its dimensions and format. The decoded image is cached for later calls with the same path.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_dimensions",
			Description: "Get the width and height of an image file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},

		// Region Operations
		{
			Name:        "image_crop",
			Description: "Crop a rectangular region from an image and return it as base64-encoded PNG. Useful for checking a single detected region by eye.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
					"x1": map[string]interface{}{
						"type":        "number",
						"description": "Left edge X coordinate",
					},
					"y1": map[string]interface{}{
						"type":        "number",
						"description": "Top edge Y coordinate",
					},
					"x2": map[string]interface{}{
						"type":        "number",
						"description": "Right edge X coordinate (exclusive)",
					},
					"y2": map[string]interface{}{
						"type":        "number",
						"description": "Bottom edge Y coordinate (exclusive)",
					},
				},
				"required": []string{"path", "x1", "y1", "x2", "y2"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
