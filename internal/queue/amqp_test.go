package queue

import (
	"testing"

	"github.com/streadway/amqp"
)

func TestAttemptOfHeader(t *testing.T) {
	tests := []struct {
		headers amqp.Table
		want    int
	}{
		{nil, 1},
		{amqp.Table{}, 1},
		{amqp.Table{attemptHeader: int32(3)}, 3},
		{amqp.Table{attemptHeader: int64(4)}, 4},
		{amqp.Table{attemptHeader: "2"}, 1},
	}
	for _, tt := range tests {
		if got := attemptOf(tt.headers); got != tt.want {
			t.Errorf("attemptOf(%v) = %d, want %d", tt.headers, got, tt.want)
		}
	}
}

func TestMessageCarriesAttemptAndID(t *testing.T) {
	b := &AMQPBroker{}
	msg := b.message("send:recipient:1", "send", []byte(`{}`), 2, 0)
	if msg.MessageId != "send:recipient:1" || msg.Type != "send" {
		t.Errorf("message = %+v", msg)
	}
	if got := attemptOf(msg.Headers); got != 2 {
		t.Errorf("attempt = %d, want 2", got)
	}
	if _, ok := msg.Headers["x-not-before"]; ok {
		t.Error("undelayed message should not carry x-not-before")
	}
}
