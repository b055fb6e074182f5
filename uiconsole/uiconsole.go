// Package uiconsole is the user-facing console feed: a bounded history of
// timestamped messages the UI renders so the user sees which edits were
// saved, reverted or discarded and why. Every message is mirrored to the
// developer log.
package uiconsole

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const historyLimit = 500

type Entry struct {
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

type Listener func(Entry)

type Feed struct {
	mu        sync.Mutex
	history   []Entry
	listeners []Listener
}

func NewFeed() *Feed {
	return &Feed{}
}

func (f *Feed) Log(text string) {
	entry := Entry{Text: text, Time: time.Now()}

	f.mu.Lock()
	f.history = append(f.history, entry)
	if len(f.history) > historyLimit {
		f.history = f.history[len(f.history)-historyLimit:]
	}
	ls := append([]Listener(nil), f.listeners...)
	f.mu.Unlock()

	logrus.Info(text)
	for _, l := range ls {
		l(entry)
	}
}

func (f *Feed) Subscribe(l Listener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

func (f *Feed) History() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Entry(nil), f.history...)
}
