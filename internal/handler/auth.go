package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/adapter/memory"
	"github.com/skillre/mindmap-qoder/internal/profile"
)

// welcomeMap seeds new demo repositories.
const welcomeMap = `{"root":{"data":{"text":"欢迎使用思维导图"},"children":[` +
	`{"data":{"text":"双击节点编辑文字"}},` +
	`{"data":{"text":"Tab 添加子节点"}},` +
	`{"data":{"text":"自动保存"},"children":[{"data":{"text":"每 30 秒保存到仓库"}}]}` +
	`]}}`

// ValidateRequest is the body of ValidateToken.
type ValidateRequest struct {
	Token string `json:"token"`
	// Remember stores the credential and opens a session.
	Remember bool `json:"remember"`
}

func (r *ValidateRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Token, validation.Required.Error("Token不能为空")),
	)
}

// ValidateToken verifies a credential and, on request, opens a session for it.
func (h *GitHubHandler) ValidateToken(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var in ValidateRequest
	if err := decodeBody(req, "validate", &in); err != nil {
		return fail(err, "Token不能为空"), nil
	}
	if err := validate("validate", &in); err != nil {
		return fail(err, "Token不能为空"), nil
	}

	store, err := h.provider.GetAdapter(ctx, in.Token)
	if err != nil {
		return h.failed("validate", err, "Token验证失败，请检查Token是否有效"), nil
	}
	identity, err := store.VerifyCredential(ctx)
	if err != nil {
		return h.failed("validate", err, "Token验证失败，请检查Token是否有效"), nil
	}

	resp := ok(identity, "Token验证成功")
	if in.Remember {
		cookie, err := h.openSession(ctx, identity.Login, in.Token)
		if err != nil {
			return h.failed("validate", err, "Token验证失败，请检查Token是否有效"), nil
		}
		resp.MultiValueHeaders = map[string][]string{"Set-Cookie": {cookie}}
	}
	return resp, nil
}

// openSession stores credential for login and returns the session cookie.
func (h *GitHubHandler) openSession(ctx context.Context, login, credential string) (string, error) {
	if h.profiles == nil {
		return "", adapter.Errorf(adapter.KindBadRequest, "session", "", "sessions are not enabled")
	}
	if _, err := h.profiles.Save(ctx, login, login, credential); err != nil {
		return "", err
	}
	token, err := h.sessions.Issue(login, login)
	if err != nil {
		return "", err
	}
	return h.sessions.Cookie(token), nil
}

// DemoLogin opens a session on a fresh demo repository seeded with a welcome
// document.
func (h *GitHubHandler) DemoLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	credential := memory.DemoPrefix + uuid.NewString()
	store, err := h.provider.GetAdapter(ctx, credential)
	if err != nil {
		return h.failed("demo", err, "演示登录失败"), nil
	}
	identity, err := store.VerifyCredential(ctx)
	if err != nil {
		return h.failed("demo", err, "演示登录失败"), nil
	}

	t := target{Owner: identity.Login, Repo: memory.DemoRepository}
	svc, err := h.service(store, t)
	if err != nil {
		return h.failed("demo", err, "演示登录失败"), nil
	}
	welcome := svc.Create("欢迎使用思维导图")
	if _, err := svc.Save(ctx, welcome, json.RawMessage(welcomeMap), ""); err != nil {
		h.logger.Warn("failed to seed demo repository", "user", identity.Login, "error", err)
	}

	cookie, err := h.openSession(ctx, identity.Login, credential)
	if err != nil {
		return h.failed("demo", err, "演示登录失败"), nil
	}
	if _, err := h.profiles.UpdateConfig(ctx, identity.Login, profile.Settings{Owner: t.Owner, Repo: t.Repo}); err != nil {
		return h.failed("demo", err, "演示登录失败"), nil
	}

	resp := ok(identity, "演示登录成功")
	resp.MultiValueHeaders = map[string][]string{"Set-Cookie": {cookie}}
	return resp, nil
}

// Logout drops the stored credential and clears the session cookie. It
// succeeds without a session.
func (h *GitHubHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if userID, err := h.sessions.UserID(req); err == nil && h.profiles != nil {
		if err := h.profiles.Delete(ctx, userID); err != nil {
			return h.failed("logout", err, "退出登录失败"), nil
		}
	}
	resp := ok(nil, "已退出登录")
	resp.MultiValueHeaders = map[string][]string{"Set-Cookie": {h.sessions.ClearCookie()}}
	return resp, nil
}

// sessionProfile returns the profile behind the request's session.
func (h *GitHubHandler) sessionProfile(ctx context.Context, req events.APIGatewayProxyRequest) (*profile.Profile, error) {
	if h.profiles == nil {
		return nil, adapter.Errorf(adapter.KindNotFound, "config", "", "sessions are not enabled")
	}
	userID, err := h.sessions.UserID(req)
	if err != nil {
		return nil, err
	}
	p, err := h.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, adapter.Errorf(adapter.KindUnauthorized, "config", "", "session has no stored credential")
	}
	return p, err
}

// GetConfig returns the caller's saved configuration.
func (h *GitHubHandler) GetConfig(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	p, err := h.sessionProfile(ctx, req)
	if err != nil {
		return h.failed("config", err, "获取配置失败"), nil
	}
	return ok(p, "获取配置成功"), nil
}

// ConfigRequest is the body of UpdateConfig.
type ConfigRequest struct {
	profile.Settings
}

func (r *ConfigRequest) Validate() error {
	return validation.ValidateStruct(&r.Settings,
		validation.Field(&r.Settings.Owner, validation.Length(0, 39)),
		validation.Field(&r.Settings.Repo, validation.Length(0, 100)),
		validation.Field(&r.Settings.Branch, validation.Length(0, 255)),
		validation.Field(&r.Settings.AutoSaveSeconds,
			validation.When(r.Settings.AutoSaveSeconds != 0, validation.Min(5), validation.Max(3600))),
	)
}

// UpdateConfig merges the caller's configuration changes.
func (h *GitHubHandler) UpdateConfig(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	p, err := h.sessionProfile(ctx, req)
	if err != nil {
		return h.failed("config", err, "保存配置失败"), nil
	}
	var in ConfigRequest
	if err := decodeBody(req, "config", &in); err != nil {
		return fail(err, "保存配置失败"), nil
	}
	if err := validate("config", &in); err != nil {
		return fail(err, "保存配置失败"), nil
	}
	updated, err := h.profiles.UpdateConfig(ctx, p.UserID, in.Settings)
	if err != nil {
		return h.failed("config", err, "保存配置失败"), nil
	}
	return ok(updated, "保存配置成功"), nil
}
