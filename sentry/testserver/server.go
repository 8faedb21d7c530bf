// Package testserver is an in-process double of the sentry HTTP service,
// serving the same JSON contract sentry.Client speaks, so that
// integration tests can drive validator tick scenarios without a real
// sentry deployment. Routing is buaazp/fasthttprouter.
package testserver

import (
	"encoding/json"
	"net"
	"time"

	"github.com/buaazp/fasthttprouter"
	"github.com/valyala/fasthttp"

	"github.com/outpace-protocol/validator-worker/internal/log"
	"github.com/outpace-protocol/validator-worker/message"
	"github.com/outpace-protocol/validator-worker/sentry"
	"github.com/outpace-protocol/validator-worker/sentry/store"
)

// Server is a minimal sentry double backed by an in-memory goleveldb store.
type Server struct {
	store    *store.Store
	listener net.Listener
	srv      *fasthttp.Server

	Addr string
}

// New starts listening on a random local port and serving the sentry
// contract. Call Close to shut down.
func New() (*Server, error) {
	st, err := store.Open("")
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{store: st, listener: ln, Addr: "http://" + ln.Addr().String()}

	router := fasthttprouter.New()
	router.GET("/channel/list", s.handleListChannels)
	router.GET("/channel/:id/validator-messages", s.handleGetMessages)
	router.POST("/channel/:id/validator-messages", s.handlePostMessages)
	router.GET("/channel/:id/last-approved", s.handleLastApproved)
	router.GET("/channel/:id/events/aggregates", s.handleGetAggregates)

	s.srv = &fasthttp.Server{Handler: router.Handler}

	go func() {
		if err := s.srv.Serve(ln); err != nil {
			log.Warn().Err(err).Msg("sentry test server stopped")
		}
	}()

	return s, nil
}

// Close shuts the server down and releases the backing store.
func (s *Server) Close() error {
	_ = s.srv.Shutdown()
	return s.store.Close()
}

// PutChannel seeds a channel into the store, for test setup.
func (s *Server) PutChannel(info sentry.ChannelInfo) error {
	return s.store.PutChannel(info)
}

// PushEvents seeds an event aggregate into the store, for test setup.
func (s *Server) PushEvents(agg sentry.EventAggregate) error {
	return s.store.PutEventAggregate(agg)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")

	data, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	_, _ = ctx.Write(data)
}

func (s *Server) handleListChannels(ctx *fasthttp.RequestCtx) {
	validatorID := string(ctx.QueryArgs().Peek("validator"))

	channels, err := s.store.ListChannelsFor(validatorID)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, sentry.ChannelListResponse{Channels: channels})
}

type envelopeWire struct {
	ChannelID string          `json:"channelId"`
	From      string          `json:"from"`
	Received  time.Time       `json:"received"`
	Seq       uint64          `json:"seq"`
	Msg       json.RawMessage `json:"msg"`
}

func toWire(env message.Envelope) (envelopeWire, error) {
	payload, err := message.Encode(env.Msg)
	if err != nil {
		return envelopeWire{}, err
	}
	return envelopeWire{
		ChannelID: env.ChannelID,
		From:      env.From,
		Received:  env.Received,
		Seq:       env.Seq,
		Msg:       payload,
	}, nil
}

func (s *Server) handleGetMessages(ctx *fasthttp.RequestCtx) {
	channelID := ctx.UserValue("id").(string)
	from := string(ctx.QueryArgs().Peek("from"))
	msgType := message.Type(ctx.QueryArgs().Peek("type"))

	all, err := s.store.AllMessages(channelID)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	var matched []message.Envelope
	for _, e := range all {
		if from != "" && e.From != from {
			continue
		}
		if msgType != "" && e.Msg.MsgType() != msgType {
			continue
		}
		matched = append(matched, e)
	}

	// Newest first, matching GetLatestMsg's expectations (limit=1 reads
	// the head of this list).
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	wires := make([]envelopeWire, 0, len(matched))
	for _, e := range matched {
		w, err := toWire(e)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
		wires = append(wires, w)
	}

	writeJSON(ctx, fasthttp.StatusOK, struct {
		Messages []envelopeWire `json:"messages"`
	}{wires})
}

func (s *Server) handlePostMessages(ctx *fasthttp.RequestCtx) {
	channelID := ctx.UserValue("id").(string)

	var body struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	for _, raw := range body.Messages {
		var withFrom struct {
			From string `json:"from"`
		}
		_ = json.Unmarshal(raw, &withFrom)

		msg, err := message.Decode(raw)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}

		from := withFrom.From
		if from == "" {
			from = string(ctx.QueryArgs().Peek("from"))
		}

		env := message.Envelope{ChannelID: channelID, From: from, Received: time.Now().UTC(), Msg: msg}
		if _, err := s.store.PutMessage(env); err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
}

func (s *Server) handleLastApproved(ctx *fasthttp.RequestCtx) {
	channelID := ctx.UserValue("id").(string)

	all, err := s.store.AllMessages(channelID)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	var newState, approveState *message.Envelope
	for i := range all {
		e := all[i]
		switch e.Msg.MsgType() {
		case message.TypeNewState:
			if newState == nil || e.Seq > newState.Seq {
				newState = &all[i]
			}
		case message.TypeApproveState:
			if approveState == nil || e.Seq > approveState.Seq {
				approveState = &all[i]
			}
		}
	}

	// Only the NewState that the newest ApproveState approved counts.
	if newState != nil {
		newState = nil
		if approveState != nil {
			root := approveState.Msg.(message.ApproveState).StateRoot
			for i := range all {
				if ns, ok := all[i].Msg.(message.NewState); ok && ns.StateRoot == root {
					newState = &all[i]
				}
			}
		}
	}

	out := struct {
		NewState     *envelopeWire `json:"newState"`
		ApproveState *envelopeWire `json:"approveState"`
	}{}

	if newState != nil {
		w, err := toWire(*newState)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
		out.NewState = &w
	}
	if approveState != nil {
		w, err := toWire(*approveState)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
		out.ApproveState = &w
	}

	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) handleGetAggregates(ctx *fasthttp.RequestCtx) {
	channelID := ctx.UserValue("id").(string)

	afterStr := string(ctx.QueryArgs().Peek("after"))
	var after time.Time
	if afterStr != "" {
		if t, err := time.Parse(time.RFC3339Nano, afterStr); err == nil {
			after = t
		}
	}

	aggs, err := s.store.EventAggregatesAfter(channelID, func(a sentry.EventAggregate) bool {
		return a.Created.After(after)
	})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, struct {
		Aggregates []sentry.EventAggregate `json:"aggregates"`
	}{aggs})
}
