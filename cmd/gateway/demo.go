package main

import (
	"strconv"

	gateway "github.com/lonng/nano-gateway"
	"github.com/lonng/nano-gateway/component"
	"github.com/lonng/nano-gateway/internal/log"
	"github.com/lonng/nano-gateway/message"
	"github.com/lonng/nano-gateway/serialize/json"
	"github.com/lonng/nano-gateway/session"
	"github.com/pingcap/errors"
)

const (
	cmdLogin   = 1
	cmdBagInfo = 2
	cmdJoined  = 100
)

type (
	// BagItem is one entry of the bag info response
	BagItem struct {
		ID    int32  `json:"id"`
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	// JoinedNotice is pushed to authenticated players when another one logs in
	JoinedNotice struct {
		SessionID int64 `json:"session_id"`
		UID       int64 `json:"uid"`
	}

	demo struct {
		component.Base
		server     *gateway.Server
		lobby      *session.Group
		serializer *json.Serializer
	}
)

func newDemo() *demo {
	return &demo{
		lobby:      session.NewGroup("lobby"),
		serializer: json.NewSerializer(),
	}
}

func (d *demo) AfterInit() {
	d.server.Sessions().OnClosed(func(s *session.Session) {
		log.Infof("Player left, SessionID=%d, UID=%d", s.ID(), s.UID())
		d.lobby.Leave(s)
	})
}

func (d *demo) Shutdown() {
	d.lobby.Close()
}

func (d *demo) Handlers() []component.Handler {
	return []component.Handler{
		component.New(component.CatchAll, false, d.login, component.WithName("login")),
		component.New(cmdBagInfo, true, d.bagInfo, component.WithName("bag")),
	}
}

// login authenticates on command 1 and echoes every other command. The body
// of a login request is the numeric uid of the player.
func (d *demo) login(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
	if in.Command != cmdLogin {
		return in.Reply(in.Body), nil
	}

	if len(in.Body) > 0 {
		uid, err := strconv.ParseInt(string(in.Body), 10, 64)
		if err != nil {
			return nil, errors.Annotate(err, "parse uid")
		}
		if err := s.Bind(uid); err != nil {
			return nil, err
		}
	}
	if err := s.MarkAuthenticated(); err != nil {
		return nil, err
	}

	notice, err := d.serializer.Marshal(&JoinedNotice{SessionID: s.ID(), UID: s.UID()})
	if err != nil {
		return nil, err
	}
	err = d.lobby.Multicast(cmdJoined, notice, func(other *session.Session) bool {
		return other.ID() != s.ID()
	})
	if err != nil {
		return nil, err
	}
	if err := d.lobby.Add(s); err != nil {
		return nil, err
	}

	return in.Reply([]byte(strconv.FormatInt(s.ID(), 10))), nil
}

func (d *demo) bagInfo(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
	items := []BagItem{
		{ID: 1001, Name: "sword", Count: 1},
		{ID: 2001, Name: "potion", Count: 12},
	}
	body, err := d.serializer.Marshal(items)
	if err != nil {
		return nil, err
	}
	return in.Reply(body), nil
}
