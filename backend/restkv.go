package backend

import (
	"context"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-shield/types"
	"github.com/saiset-co/sai-shield/utils"
)

// restIncrWindowScript mirrors the redis backend's window script so both
// distributed backends share window semantics.
const restIncrWindowScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`

// RestKVStore talks to a hosted REST key-value service. Every command is a
// JSON array POSTed to the base URL with a bearer token. Values are base64
// encoded on the wire since cache payloads may be compressed binary.
type RestKVStore struct {
	client  *fasthttp.Client
	baseURL string
	token   string
	timeout time.Duration
}

type restResponse struct {
	Result interface{} `json:"result"`
	Error  string      `json:"error"`
}

func NewRestKVStore(config *types.BackendConfig) (*RestKVStore, error) {
	if config == nil || config.RestURL == "" || config.RestToken == "" {
		return nil, types.ErrNoBackendConfigured
	}

	timeout := 3 * time.Second
	if config.ReadTimeout > 0 {
		timeout = config.ReadTimeout
	}

	client := &fasthttp.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if config.DialTimeout > 0 {
		client.MaxConnWaitTimeout = config.DialTimeout
	}

	return &RestKVStore{
		client:  client,
		baseURL: config.RestURL,
		token:   config.RestToken,
		timeout: timeout,
	}, nil
}

func (s *RestKVStore) Name() string {
	return "rest-kv"
}

func (s *RestKVStore) Distributed() bool {
	return true
}

func (s *RestKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	result, err := s.execute(ctx, []interface{}{"GET", key})
	if err != nil {
		return nil, err
	}

	if result == nil {
		return nil, types.ErrCacheMiss
	}

	encoded, ok := result.(string)
	if !ok {
		return nil, types.Errorf(types.ErrCacheEntryCorrupted, "unexpected GET reply type %T", result)
	}

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.WrapError(types.ErrCacheEntryCorrupted, "value is not valid base64")
	}

	return value, nil
}

func (s *RestKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	encoded := base64.StdEncoding.EncodeToString(value)

	command := []interface{}{"SET", key, encoded}
	if ttl > 0 {
		command = append(command, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}

	_, err := s.execute(ctx, command)
	return err
}

func (s *RestKVStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	_, err := s.execute(ctx, []interface{}{"DEL", key})
	return err
}

func (s *RestKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	result, err := s.execute(ctx, []interface{}{"EXISTS", key})
	if err != nil {
		return false, err
	}

	return toInt64(result) > 0, nil
}

func (s *RestKVStore) IncrWindow(ctx context.Context, key string, window time.Duration) (types.WindowCount, error) {
	if key == "" {
		return types.WindowCount{}, types.ErrCacheKeyEmpty
	}

	command := []interface{}{
		"EVAL", restIncrWindowScript, "1", key,
		strconv.FormatInt(window.Milliseconds(), 10),
	}

	result, err := s.execute(ctx, command)
	if err != nil {
		return types.WindowCount{}, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return types.WindowCount{}, types.NewErrorf("unexpected incr window reply: %v", result)
	}

	count := toInt64(values[0])
	ttlMs := toInt64(values[1])

	remaining := time.Duration(ttlMs) * time.Millisecond
	if ttlMs < 0 {
		remaining = window
	}

	return types.WindowCount{Count: count, Remaining: remaining}, nil
}

func (s *RestKVStore) Ping(ctx context.Context) error {
	result, err := s.execute(ctx, []interface{}{"PING"})
	if err != nil {
		return types.Errorf(types.ErrBackendUnavailable, "rest-kv ping: %v", err)
	}

	if reply, ok := result.(string); !ok || reply != "PONG" {
		return types.Errorf(types.ErrBackendUnavailable, "rest-kv ping reply: %v", result)
	}

	return nil
}

func (s *RestKVStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *RestKVStore) execute(ctx context.Context, command []interface{}) (interface{}, error) {
	body, err := utils.Marshal(command)
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal rest-kv command")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.baseURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.SetBody(body)

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		return nil, types.WrapError(context.DeadlineExceeded, "rest-kv request")
	}

	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, types.Errorf(types.ErrBackendUnavailable, "rest-kv request: %v", err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, types.Errorf(types.ErrBackendUnavailable, "rest-kv status %d", resp.StatusCode())
	}

	var parsed restResponse
	if err := utils.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, types.WrapError(err, "failed to parse rest-kv response")
	}

	if parsed.Error != "" {
		return nil, types.Errorf(types.ErrCacheOperationFailed, "rest-kv: %s", parsed.Error)
	}

	return parsed.Result, nil
}

// toInt64 normalizes JSON numbers, which arrive as float64, and the int64
// values some decoders produce.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}
