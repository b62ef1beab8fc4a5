package gemini

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
)

// ProviderName is used in rate limit messages.
const ProviderName = "Gemini"

// NewClient opens one genai client shared by the embedder and the generator.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (*genai.Client, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	return genai.NewClient(ctx, opts...)
}

// classify marks throttling and transient unavailability as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if throttled(err) {
		return apperr.MarkRetryable(err)
	}
	return err
}

func throttled(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return retryableHTTP(gErr.Code)
	}

	var aErr *apierror.APIError
	if errors.As(err, &aErr) {
		if code := aErr.HTTPCode(); code > 0 {
			return retryableHTTP(code)
		}
		return retryableGRPC(aErr.GRPCStatus().Code())
	}

	if s, ok := status.FromError(err); ok {
		return retryableGRPC(s.Code())
	}
	return false
}

func retryableHTTP(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

func retryableGRPC(code codes.Code) bool {
	return code == codes.ResourceExhausted || code == codes.Unavailable
}
