// Package bus publishes interview events to the host application over a
// websocket.
package bus

import (
	"encoding/json"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"carescribe/internal/audio"
	"carescribe/internal/domain"
)

const From = "carescribe"

type Kind string

const (
	KindTurn    Kind = "turn"
	KindState   Kind = "state"
	KindSegment Kind = "segment"
	KindReport  Kind = "report"
)

type Message struct {
	From    string         `json:"from"`
	Kind    Kind           `json:"kind"`
	Session string         `json:"session"`
	Content string         `json:"content,omitempty"`
	Segment *audio.Segment `json:"segment,omitempty"`
	Report  *domain.Report `json:"report,omitempty"`
}

const DefaultReconnectDelay = time.Second

type Publisher struct {
	url    string
	delay  time.Duration
	dialer *ws.Dialer

	mu   sync.Mutex
	conn *ws.Conn
}

func NewPublisher(url string, reconnectDelay time.Duration) (*Publisher, error) {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	p := &Publisher{
		url:    url,
		delay:  reconnectDelay,
		dialer: ws.DefaultDialer,
	}

	conn, _, err := p.dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bus %s: %w", url, err)
	}
	p.conn = conn

	log.Info("Connected to bus", "url", url)
	return p, nil
}

// Publish writes m. A failed write reconnects once after the reconnect
// delay and retries.
func (p *Publisher) Publish(m Message) error {
	m.From = From
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		if err = p.conn.WriteMessage(ws.TextMessage, data); err == nil {
			return nil
		}
		log.Warn("Bus write failed, reconnecting", "err", err)
		p.conn.Close()
		p.conn = nil
	}

	time.Sleep(p.delay)
	conn, _, err := p.dialer.Dial(p.url, nil)
	if err != nil {
		return fmt.Errorf("reconnect bus: %w", err)
	}
	p.conn = conn
	return conn.WriteMessage(ws.TextMessage, data)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	_ = p.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *Publisher) Turn(session string, t domain.Turn) {
	p.send(Message{Kind: KindTurn, Session: session, Content: string(t.Speaker) + ": " + t.Text})
}

func (p *Publisher) State(session, state string) {
	p.send(Message{Kind: KindState, Session: session, Content: state})
}

func (p *Publisher) Segment(session string, ev audio.Event) {
	seg := ev.Segment
	p.send(Message{Kind: KindSegment, Session: session, Content: string(ev.Kind), Segment: &seg})
}

func (p *Publisher) Report(session string, r domain.Report) {
	p.send(Message{Kind: KindReport, Session: session, Report: &r})
}

func (p *Publisher) send(m Message) {
	if err := p.Publish(m); err != nil {
		log.Error("Failed to publish", "kind", m.Kind, "session", m.Session, "err", err)
	}
}
