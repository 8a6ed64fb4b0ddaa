// Package bridge carries user interactions between rendered widget
// instances and the server: clicks in, refreshed configurations out.
package bridge

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
	"github.com/joeblew999/plat-mapwidget/internal/logger"
)

// DefaultSessionCacheSize bounds the number of live instances tracked.
const DefaultSessionCacheSize = 4096

var ErrUnknownInstance = errors.New("unknown widget instance")

// Session is the server-side state of one rendered widget instance.
type Session struct {
	Widget   string
	Instance string
	Clicked  *layer.LatLng
}

// Sessions tracks widget instances in a bounded LRU cache. The least
// recently used instance is forgotten first.
type Sessions struct {
	mu  sync.Mutex
	lru *lru.Cache[string, Session]
}

func NewSessions(size int) *Sessions {
	if size <= 0 {
		size = DefaultSessionCacheSize
	}
	c, _ := lru.New[string, Session](size)
	return &Sessions{lru: c}
}

// Open registers a new instance of widget and returns it.
func (s *Sessions) Open(widget string) Session {
	sess := Session{Widget: widget, Instance: "w" + logger.NewID()}
	s.mu.Lock()
	s.lru.Add(sess.Instance, sess)
	s.mu.Unlock()
	return sess
}

// Get returns a copy of an instance's session.
func (s *Sessions) Get(instance string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.lru.Get(instance)
	if !ok {
		return Session{}, ErrUnknownInstance
	}
	return sess, nil
}

// SetClicked stores the last map click of an instance.
func (s *Sessions) SetClicked(instance string, at layer.LatLng) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.lru.Get(instance)
	if !ok {
		return Session{}, ErrUnknownInstance
	}
	sess.Clicked = &at
	s.lru.Add(instance, sess)
	return sess, nil
}

// ClearClicked forgets the stored click once a marker has been created.
func (s *Sessions) ClearClicked(instance string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.lru.Peek(instance); ok {
		sess.Clicked = nil
		s.lru.Add(instance, sess)
	}
}

func (s *Sessions) Len() int {
	return s.lru.Len()
}
