package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parley-chat/parley/models"
	"google.golang.org/genai"
)

const imageOutputDir = "data/images"

// GenerateImageTool returns the image-generation tool, backed by
// Gemini's image model via the genai SDK. Requires GEMINI_API_KEY in
// the environment.
func GenerateImageTool() Tool {
	return Tool{
		Declaration: models.FunctionDeclaration{
			Name:        "generate_image",
			Description: "Generate an image from a text prompt. Saves the image locally and returns its path as a markdown link.",
			Parameters: models.Parameters{
				Type: "object",
				Properties: map[string]interface{}{
					"prompt": map[string]interface{}{
						"type":        "string",
						"description": "Description of the image to generate",
					},
				},
				Required: []string{"prompt"},
			},
		},
		Handler: generateImage,
	}
}

func generateImage(ctx context.Context, args map[string]interface{}) (string, error) {
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt must be a non-empty string")
	}

	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create Gemini client: %w", err)
	}

	result, err := client.Models.GenerateContent(
		ctx,
		"gemini-2.5-flash-image",
		genai.Text(prompt),
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate image: %w", err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("no image generated in response")
	}

	for _, part := range result.Candidates[0].Content.Parts {
		if part.InlineData == nil {
			continue
		}
		extension := "png"
		if parts := strings.Split(part.InlineData.MIMEType, "/"); len(parts) == 2 {
			extension = parts[1]
		}

		if err := os.MkdirAll(imageOutputDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create image directory: %w", err)
		}
		filename := fmt.Sprintf("image_%d.%s", time.Now().UnixNano(), extension)
		path := filepath.Join(imageOutputDir, filename)
		if err := os.WriteFile(path, part.InlineData.Data, 0644); err != nil {
			return "", fmt.Errorf("failed to save image: %w", err)
		}
		return fmt.Sprintf("![%s](%s)", prompt, path), nil
	}
	return "", fmt.Errorf("no inline image data in response")
}
