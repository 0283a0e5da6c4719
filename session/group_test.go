package session

import (
	"math/rand"
	"testing"

	"github.com/lonng/nano-gateway/mock"
)

func TestGroup_Add(t *testing.T) {
	m := NewManager(1000)
	c := NewGroup("test_add")

	var paraCount = 100
	w := make(chan int64, paraCount)
	for i := 0; i < paraCount; i++ {
		go func() {
			s, err := m.Register(mock.NewTransport())
			if err != nil {
				t.Error(err)
			}
			c.Add(s)
			w <- s.ID()
		}()
	}

	var ids []int64
	for i := 0; i < paraCount; i++ {
		ids = append(ids, <-w)
	}

	if c.Count() != paraCount {
		t.Fatalf("count expect: %d, got: %d", paraCount, c.Count())
	}

	n := ids[rand.Intn(len(ids))]
	if !c.Contains(n) {
		t.Fail()
	}
	if len(c.Members()) != paraCount {
		t.Fail()
	}

	// leave
	c.LeaveAll()
	if c.Count() != 0 {
		t.Fail()
	}
}

func TestGroup_Multicast(t *testing.T) {
	m := NewManager(10)
	c := NewGroup("lobby")

	var transports []*mock.Transport
	var sessions []*Session
	for i := 0; i < 3; i++ {
		tr := mock.NewTransport()
		s, _ := m.Register(tr)
		c.Add(s)
		transports = append(transports, tr)
		sessions = append(sessions, s)
	}

	if err := c.Broadcast(100, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	for _, tr := range transports {
		if e := tr.LastSent(); e == nil || string(e.Body) != "hello" {
			t.Fatalf("broadcast not received: %v", e)
		}
	}

	except := sessions[0].ID()
	c.Multicast(101, nil, func(s *Session) bool { return s.ID() != except })
	if transports[0].LastSent().Command != 100 || transports[1].LastSent().Command != 101 {
		t.Fail()
	}

	if err := c.Leave(sessions[1]); err != nil {
		t.Fatal(err)
	}
	if err := c.Leave(sessions[1]); err != ErrMemberNotFound {
		t.Fatalf("expect member not found, got %v", err)
	}
	if _, err := c.Member(sessions[2].ID()); err != nil {
		t.Fatal(err)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != ErrCloseClosedGroup {
		t.Fail()
	}
	if err := c.Broadcast(100, nil); err != ErrClosedGroup {
		t.Fail()
	}
	if err := c.Add(sessions[0]); err != ErrClosedGroup {
		t.Fail()
	}
}
