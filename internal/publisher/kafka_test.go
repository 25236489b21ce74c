package publisher

import (
	"context"
	"testing"
)

func TestNewKafkaProducerValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{"ok", KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "ingestion-logs"}, false},
		{"blank brokers", KafkaConfig{Brokers: []string{" ", ""}, Topic: "ingestion-logs"}, true},
		{"no brokers", KafkaConfig{Topic: "ingestion-logs"}, true},
		{"no topic", KafkaConfig{Brokers: []string{"localhost:9092"}}, true},
	}
	for _, tt := range tests {
		p, err := NewKafkaProducer(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if p != nil {
			if err := p.Flush(context.Background()); err != nil {
				t.Errorf("%s: Flush: %v", tt.name, err)
			}
			if err := p.Close(); err != nil {
				t.Errorf("%s: Close: %v", tt.name, err)
			}
		}
	}
}
