package blebridge

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Publisher sends JSON payloads to the host.
type Publisher interface {
	Publish(topic string, payload interface{}, retained bool) error
}

// Request is a host request. ID is echoed in the response topic.
type Request struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
}

// ResponseError carries a failed operation's taxonomy kind.
type ResponseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response answers exactly one Request. Stopped is set, with no result, on a
// scan request that stopped the open window.
type Response struct {
	ID      string         `json:"id"`
	Op      string         `json:"op"`
	OK      bool           `json:"ok"`
	Stopped bool           `json:"stopped,omitempty"`
	Result  interface{}    `json:"result,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
}

// StateEvent is published, retained, on every connection state change.
type StateEvent struct {
	State     string `json:"state"`
	Address   string `json:"address,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// RPC serves a Bridge to a host over a topic tree:
//
//	<prefix>/request/{scan,connect,disconnect}  requests
//	<prefix>/response/<id>                      responses
//	<prefix>/state                              connection state, retained
type RPC struct {
	pub    Publisher
	prefix string
	log    logrus.FieldLogger

	mu     sync.RWMutex
	bridge *Bridge
}

func NewRPC(pub Publisher, prefix string, log logrus.FieldLogger) *RPC {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RPC{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    log,
	}
}

// Bind sets the bridge requests are dispatched to.
func (r *RPC) Bind(b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bridge = b
}

// RequestTopic is the subscription filter covering every request.
func (r *RPC) RequestTopic() string {
	return r.prefix + "/request/+"
}

func (r *RPC) ResponseTopic(id string) string {
	return r.prefix + "/response/" + id
}

func (r *RPC) StateTopic() string {
	return r.prefix + "/state"
}

func (r *RPC) AvailabilityTopic() string {
	return r.prefix + "/availability"
}

// Handle dispatches one request message. It never blocks on the operation;
// the response is published when the operation settles.
func (r *RPC) Handle(topic string, payload []byte) {
	op := topic[strings.LastIndex(topic, "/")+1:]

	var req Request
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			r.log.WithField("topic", topic).WithError(err).Warn("malformed request")
			req = Request{}
		}
	}
	if !validRequestID(req.ID) {
		id := ulid.Make().String()
		if req.ID != "" {
			r.log.WithFields(logrus.Fields{
				"request":  req.ID,
				"assigned": id,
			}).Warn("request id is not a valid topic level")
		}
		req.ID = id
	}
	log := r.log.WithFields(logrus.Fields{
		"request": req.ID,
		"op":      op,
	})

	r.mu.RLock()
	b := r.bridge
	r.mu.RUnlock()
	if b == nil {
		r.reply(log, Response{ID: req.ID, Op: op, Error: &ResponseError{Kind: KindName(ErrAdapterUnavailable), Message: "bridge not ready"}})
		return
	}

	log.Debug("request received")
	switch op {
	case "scan":
		p := b.ScanDevices()
		go func() {
			devices, err := p.Result()
			resp := newResponse(req.ID, op, devices, err)
			if err == nil && devices == nil {
				resp.Result = nil
				resp.Stopped = true
			}
			r.reply(log, resp)
		}()
	case "connect":
		await(r, log, req.ID, op, b.ConnectDevice(req.Address))
	case "disconnect":
		await(r, log, req.ID, op, b.DisconnectDevice(req.Address))
	default:
		r.reply(log, Response{ID: req.ID, Op: op, Error: &ResponseError{Kind: "unknown_operation", Message: "unknown operation " + op}})
	}
}

func await[T any](r *RPC, log logrus.FieldLogger, id, op string, p *Pending[T]) {
	go func() {
		v, err := p.Result()
		r.reply(log, newResponse(id, op, v, err))
	}()
}

func newResponse[T any](id, op string, v T, err error) Response {
	resp := Response{ID: id, Op: op}
	if err != nil {
		resp.Error = &ResponseError{Kind: KindName(err), Message: err.Error()}
		return resp
	}
	resp.OK = true
	resp.Result = v
	return resp
}

// validRequestID reports whether id can be used as a single topic level.
func validRequestID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/+#\x00")
}

func (r *RPC) reply(log logrus.FieldLogger, resp Response) {
	if err := r.pub.Publish(r.ResponseTopic(resp.ID), resp, false); err != nil {
		log.WithError(err).Error("error while publishing response")
	}
}

// PublishState publishes a connection state change. It fits Options.OnStateChange.
func (r *RPC) PublishState(state ConnectionState, address string) {
	ev := StateEvent{
		State:     state.String(),
		Address:   address,
		Timestamp: time.Now().Unix(),
	}
	if err := r.pub.Publish(r.StateTopic(), ev, true); err != nil {
		r.log.WithField("state", ev.State).WithError(err).Error("error while publishing state")
	}
}
