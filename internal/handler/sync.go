package handler

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/skillre/mindmap-qoder/internal/revision"
)

// CheckRequest is the body of CheckSync.
type CheckRequest struct {
	target
	Path string `json:"path"`
	// SHA is the version the client last read or wrote; empty for a document
	// it has never saved.
	SHA string `json:"sha"`
}

func (r *CheckRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required, validation.By(jsonPath)),
	)
}

// CheckSync reports whether the remote version of a document still matches
// the client's token, without reading its content.
func (h *GitHubHandler) CheckSync(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var in CheckRequest
	if err := decodeBody(req, "check", &in); err != nil {
		return fail(err, "检查同步状态失败"), nil
	}
	if err := validate("check", &in); err != nil {
		return fail(err, "检查同步状态失败"), nil
	}
	store, err := h.connect(ctx, req, &in.target, true)
	if err != nil {
		return h.failed("check", err, "检查同步状态失败"), nil
	}
	svc, err := h.service(store, in.target)
	if err != nil {
		return h.failed("check", err, "检查同步状态失败"), nil
	}
	res, err := svc.Check(ctx, revision.Opened(in.Path, in.SHA, nil))
	if err != nil {
		return h.failed("check", err, "检查同步状态失败"), nil
	}
	return ok(res, "检查同步状态成功"), nil
}
