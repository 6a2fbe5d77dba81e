package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/feednode/internal/api/models"
	"github.com/smazurov/feednode/internal/ffmpeg"
)

// registerOptionsRoutes registers the encode option listing.
func (s *Server) registerOptionsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-encode-options",
		Method:      http.MethodGet,
		Path:        "/api/encode/options",
		Summary:     "Get Encode Options",
		Description: "List the ffmpeg option keys accepted by encode branches, with their arguments and exclusive groups",
		Tags:        []string{"configuration"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.OptionsResponse, error) {
		return &models.OptionsResponse{
			Body: models.OptionsData{
				Options: ffmpeg.AllOptions,
			},
		}, nil
	})
}
