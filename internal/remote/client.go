package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/retry"
)

const (
	blocksPath = "/rest/v1/time_blocks"
	statsPath  = "/rest/v1/pomodoro_stats"
	prefsPath  = "/rest/v1/user_preferences"
)

type Options struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	Timeout     time.Duration
}

// Client implements Service over HTTP.
type Client struct {
	http *resty.Client
	now  func() time.Time
}

var _ Service = (*Client)(nil)

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := resty.New().
		SetBaseURL(opts.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if opts.APIKey != "" {
		c.SetHeader("apikey", opts.APIKey)
	}
	if opts.AccessToken != "" {
		c.SetAuthToken(opts.AccessToken)
	}

	return &Client{http: c, now: time.Now}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// send executes req and maps failures onto retry.ClassifiedError.
func send(ctx context.Context, req *resty.Request, method, path, op string) (*resty.Response, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.NewNetworkError(op, err)
	}
	if resp.IsError() {
		return nil, retry.NewHTTPError(resp.StatusCode(), resp.String(), op)
	}
	return resp, nil
}

func decode[T any](resp *resty.Response, op string) (T, error) {
	var v T
	if err := json.Unmarshal(resp.Body(), &v); err != nil {
		return v, fmt.Errorf("decode %s response: %w", op, err)
	}
	return v, nil
}

// ============================================================
// Time blocks
// ============================================================

func (c *Client) TimeBlocks(ctx context.Context, ownerID string) ([]model.TimeBlock, error) {
	req := c.request(ctx).SetQueryParams(map[string]string{
		"user_id": "eq." + ownerID,
		"order":   "date.asc,hour.asc,start_minute.asc",
	})
	resp, err := send(ctx, req, http.MethodGet, blocksPath, "list time blocks")
	if err != nil {
		return nil, err
	}
	return decode[[]model.TimeBlock](resp, "list time blocks")
}

type blockRow struct {
	UserID          string         `json:"user_id"`
	Title           string         `json:"title"`
	Category        model.Category `json:"category"`
	Date            string         `json:"date"`
	Hour            int            `json:"hour"`
	StartMinute     int            `json:"start_minute"`
	DurationMinutes int            `json:"duration_minutes"`
	TimerDuration   *int           `json:"timer_duration,omitempty"`
	Completed       bool           `json:"completed"`
	RolloverEnabled bool           `json:"rollover_enabled"`
	IsRolledOver    bool           `json:"is_rolled_over"`
	OriginalDate    *string        `json:"original_date,omitempty"`
	RolloverCount   int            `json:"rollover_count"`
	ClientRef       string         `json:"client_ref,omitempty"`
}

// CreateTimeBlock inserts b for ownerID. When b carries a ClientRef a replay
// of the same create returns the row stored the first time.
func (c *Client) CreateTimeBlock(ctx context.Context, ownerID string, b model.TimeBlock) (model.TimeBlock, error) {
	row := blockRow{
		UserID:          ownerID,
		Title:           b.Title,
		Category:        b.Category,
		Date:            b.Date,
		Hour:            b.Hour,
		StartMinute:     b.StartMinute,
		DurationMinutes: b.DurationMinutes,
		TimerDuration:   b.TimerDuration,
		Completed:       b.Completed,
		RolloverEnabled: b.RolloverEnabled,
		IsRolledOver:    b.IsRolledOver,
		OriginalDate:    b.OriginalDate,
		RolloverCount:   b.RolloverCount,
		ClientRef:       b.ClientRef,
	}

	req := c.request(ctx).SetBody(&row)
	if b.ClientRef != "" {
		req.SetHeader("Prefer", "return=representation,resolution=ignore-duplicates").
			SetQueryParam("on_conflict", "user_id,client_ref")
	} else {
		req.SetHeader("Prefer", "return=representation")
	}

	resp, err := send(ctx, req, http.MethodPost, blocksPath, "create time block")
	if err != nil {
		return model.TimeBlock{}, err
	}
	rows, err := decode[[]model.TimeBlock](resp, "create time block")
	if err != nil {
		return model.TimeBlock{}, err
	}
	if len(rows) > 0 {
		return rows[0], nil
	}
	if b.ClientRef == "" {
		return model.TimeBlock{}, fmt.Errorf("create time block: empty response")
	}

	// Duplicate ignored: fetch the row the earlier attempt created.
	existing, err := c.blocksByClientRef(ctx, ownerID, b.ClientRef)
	if err != nil {
		return model.TimeBlock{}, err
	}
	if len(existing) == 0 {
		return model.TimeBlock{}, fmt.Errorf("create time block %s: %w", b.ClientRef, ErrNotFound)
	}
	return existing[0], nil
}

func (c *Client) blocksByClientRef(ctx context.Context, ownerID, ref string) ([]model.TimeBlock, error) {
	req := c.request(ctx).SetQueryParams(map[string]string{
		"user_id":    "eq." + ownerID,
		"client_ref": "eq." + ref,
	})
	resp, err := send(ctx, req, http.MethodGet, blocksPath, "find time block")
	if err != nil {
		return nil, err
	}
	return decode[[]model.TimeBlock](resp, "find time block")
}

func (c *Client) UpdateTimeBlock(ctx context.Context, id string, patch model.BlockPatch) (model.TimeBlock, error) {
	req := c.request(ctx).
		SetQueryParam("id", "eq."+id).
		SetHeader("Prefer", "return=representation").
		SetBody(&patch)
	resp, err := send(ctx, req, http.MethodPatch, blocksPath, "update time block")
	if err != nil {
		return model.TimeBlock{}, err
	}
	rows, err := decode[[]model.TimeBlock](resp, "update time block")
	if err != nil {
		return model.TimeBlock{}, err
	}
	if len(rows) == 0 {
		return model.TimeBlock{}, fmt.Errorf("update time block %s: %w", id, ErrNotFound)
	}
	return rows[0], nil
}

// DeleteTimeBlock removes the block. Deleting a missing id succeeds.
func (c *Client) DeleteTimeBlock(ctx context.Context, id string) error {
	req := c.request(ctx).SetQueryParam("id", "eq."+id)
	_, err := send(ctx, req, http.MethodDelete, blocksPath, "delete time block")
	return err
}

// ============================================================
// Stats
// ============================================================

func (c *Client) PomodoroStats(ctx context.Context, ownerID string) ([]model.PomodoroStat, error) {
	req := c.request(ctx).SetQueryParams(map[string]string{
		"user_id": "eq." + ownerID,
		"order":   "date.asc",
	})
	resp, err := send(ctx, req, http.MethodGet, statsPath, "list pomodoro stats")
	if err != nil {
		return nil, err
	}
	return decode[[]model.PomodoroStat](resp, "list pomodoro stats")
}

// SavePomodoroStat adds session to the owner's row for that date. A session
// whose ID the row already lists is not counted again, so resending after a
// lost response is safe.
func (c *Client) SavePomodoroStat(ctx context.Context, ownerID string, session model.PomodoroSession) (model.PomodoroStat, error) {
	date := session.Date
	if date == "" {
		date = c.now().Format(model.DateLayout)
	}

	req := c.request(ctx).SetQueryParams(map[string]string{
		"user_id": "eq." + ownerID,
		"date":    "eq." + date,
	})
	resp, err := send(ctx, req, http.MethodGet, statsPath, "read pomodoro stat")
	if err != nil {
		return model.PomodoroStat{}, err
	}
	rows, err := decode[[]model.PomodoroStat](resp, "read pomodoro stat")
	if err != nil {
		return model.PomodoroStat{}, err
	}

	stat := model.PomodoroStat{UserID: ownerID, Date: date}
	if len(rows) > 0 {
		stat = rows[0]
	}
	if !stat.Record(session) {
		return stat, nil
	}

	body := map[string]any{
		"user_id":             ownerID,
		"date":                date,
		"pomodoros_completed": stat.PomodorosCompleted,
		"focus_minutes":       stat.FocusMinutes,
		"category_breakdown":  stat.CategoryBreakdown,
	}
	if len(stat.SessionIDs) > 0 {
		body["session_ids"] = stat.SessionIDs
	}
	req = c.request(ctx).
		SetQueryParam("on_conflict", "user_id,date").
		SetHeader("Prefer", "return=representation,resolution=merge-duplicates").
		SetBody(body)
	resp, err = send(ctx, req, http.MethodPost, statsPath, "save pomodoro stat")
	if err != nil {
		return model.PomodoroStat{}, err
	}
	saved, err := decode[[]model.PomodoroStat](resp, "save pomodoro stat")
	if err != nil {
		return model.PomodoroStat{}, err
	}
	if len(saved) == 0 {
		return stat, nil
	}
	return saved[0], nil
}

// ============================================================
// Preferences
// ============================================================

func (c *Client) Preferences(ctx context.Context, ownerID string) (*model.Preferences, error) {
	req := c.request(ctx).SetQueryParam("user_id", "eq."+ownerID)
	resp, err := send(ctx, req, http.MethodGet, prefsPath, "read preferences")
	if err != nil {
		return nil, err
	}
	rows, err := decode[[]model.Preferences](resp, "read preferences")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) UpsertPreferences(ctx context.Context, ownerID string, p model.Preferences) (model.Preferences, error) {
	p.UserID = ownerID
	p.UpdatedAt = c.now().UTC()
	req := c.request(ctx).
		SetQueryParam("on_conflict", "user_id").
		SetHeader("Prefer", "return=representation,resolution=merge-duplicates").
		SetBody(&p)
	resp, err := send(ctx, req, http.MethodPost, prefsPath, "save preferences")
	if err != nil {
		return model.Preferences{}, err
	}
	rows, err := decode[[]model.Preferences](resp, "save preferences")
	if err != nil {
		return model.Preferences{}, err
	}
	if len(rows) == 0 {
		return p, nil
	}
	return rows[0], nil
}
