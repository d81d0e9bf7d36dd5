package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/course"
	"backend-orienteering/internal/log"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrStatus wraps every non-2xx answer from the remote API.
var ErrStatus = errors.New("remote api returned non-success status")

const defaultTimeout = 10 * time.Second

// Client talks to the orienteering server API over HTTP.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		logger:  log.OrNop(logger),
	}
}

func (c *Client) Maps() *MapAPI { return &MapAPI{c: c} }

func (c *Client) Activities() *ActivityAPI { return &ActivityAPI{c: c} }

func (c *Client) url(parts ...string) string {
	return c.baseURL + "/" + strings.Join(parts, "/")
}

func (c *Client) timeoutFor(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < c.timeout {
			return left
		}
	}
	return c.timeout
}

func (c *Client) do(ctx context.Context, a *fiber.Agent, out any) error {
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(a)
		return err
	}
	a.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	if c.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	a.Timeout(c.timeoutFor(ctx))

	req := a.Request()
	method, uri := string(req.Header.Method()), req.URI().String()

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		err := errors.Join(errs...)
		c.logger.Warn("remote request failed", zap.String("method", method), zap.String("url", uri), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, uri, err)
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		c.logger.Warn("remote request rejected", zap.String("method", method), zap.String("url", uri), zap.Int("status", code))
		return fmt.Errorf("%w: %s %s: %d %s", ErrStatus, method, uri, code, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, uri, err)
	}
	return nil
}

type MapAPI struct {
	c *Client
}

func (api *MapAPI) Create(ctx context.Context, m course.Map) (course.Map, error) {
	var out MapDTO
	if err := api.c.do(ctx, fiber.Post(api.c.url("maps")).JSON(MapToDTO(m)), &out); err != nil {
		return course.Map{}, err
	}
	return MapFromDTO(out), nil
}

func (api *MapAPI) ListByUser(ctx context.Context, userID int64) ([]course.Map, error) {
	var out []MapDTO
	a := fiber.Get(api.c.url("maps")).QueryString("userId=" + strconv.FormatInt(userID, 10))
	if err := api.c.do(ctx, a, &out); err != nil {
		return nil, err
	}
	return lo.Map(out, func(d MapDTO, _ int) course.Map { return MapFromDTO(d) }), nil
}

func (api *MapAPI) Delete(ctx context.Context, id int64) error {
	return api.c.do(ctx, fiber.Delete(api.c.url("maps", strconv.FormatInt(id, 10))), nil)
}

type ActivityAPI struct {
	c *Client
}

func (api *ActivityAPI) Create(ctx context.Context, a activity.Activity) (activity.Activity, error) {
	var out ActivityDTO
	if err := api.c.do(ctx, fiber.Post(api.c.url("activities")).JSON(ActivityToDTO(a)), &out); err != nil {
		return activity.Activity{}, err
	}
	return ActivityFromDTO(out), nil
}

func (api *ActivityAPI) ListByUser(ctx context.Context, userID int64) ([]activity.Activity, error) {
	var out []ActivityDTO
	a := fiber.Get(api.c.url("activities")).QueryString("userId=" + strconv.FormatInt(userID, 10))
	if err := api.c.do(ctx, a, &out); err != nil {
		return nil, err
	}
	return lo.Map(out, func(d ActivityDTO, _ int) activity.Activity { return ActivityFromDTO(d) }), nil
}

func (api *ActivityAPI) Delete(ctx context.Context, id int64) error {
	return api.c.do(ctx, fiber.Delete(api.c.url("activities", strconv.FormatInt(id, 10))), nil)
}
