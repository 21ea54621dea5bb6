package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"trade_sim/internal/domain"

	"github.com/go-redis/redismock/v9"
)

func testResult() domain.TickResult {
	return domain.TickResult{
		SimulationID: "sim-1",
		Timestamp:    "2025-05-04T10:39:13Z",
		Status:       domain.ResultOK,
		NetCostUSD:   1.5,
		MakerTaker:   domain.MakerTakerSplit{Maker: 0.1, Taker: 0.9},
	}
}

func TestPublisher_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewPublisher(db, "tradesim", time.Minute)
	ctx := context.Background()

	res := testResult()
	payload, _ := json.Marshal(res)
	mock.ExpectPublish("tradesim:tick:sim-1", string(payload)).SetVal(1)
	mock.ExpectSet("tradesim:latest:sim-1", string(payload), time.Minute).SetVal("OK")

	if err := p.Publish(ctx, res); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Redis expectations not met: %v", err)
	}
}

func TestPublisher_PublishError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewPublisher(db, "tradesim", time.Minute)

	res := testResult()
	payload, _ := json.Marshal(res)
	mock.ExpectPublish("tradesim:tick:sim-1", string(payload)).SetErr(errors.New("connection refused"))

	if err := p.Publish(context.Background(), res); err == nil {
		t.Fatal("Publish error = nil, want error")
	}
}

func TestPublisher_Latest(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewPublisher(db, "tradesim", time.Minute)
	ctx := context.Background()

	t.Run("stored result", func(t *testing.T) {
		payload, _ := json.Marshal(testResult())
		mock.ExpectGet("tradesim:latest:sim-1").SetVal(string(payload))

		got, err := p.Latest(ctx, "sim-1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if got == nil || got.NetCostUSD != 1.5 || got.MakerTaker.Taker != 0.9 {
			t.Errorf("Latest = %+v, want the stored result", got)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		mock.ExpectGet("tradesim:latest:sim-2").RedisNil()

		got, err := p.Latest(ctx, "sim-2")
		if err != nil {
			t.Fatalf("Latest should not fail on a miss: %v", err)
		}
		if got != nil {
			t.Errorf("Latest = %+v, want nil", got)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Redis expectations not met: %v", err)
	}
}

func TestPublisher_Keys(t *testing.T) {
	p := NewPublisher(nil, "tradesim", 0)
	if got := p.Channel("a"); got != "tradesim:tick:a" {
		t.Errorf("Channel = %q", got)
	}
	if got := p.LatestKey("a"); got != "tradesim:latest:a" {
		t.Errorf("LatestKey = %q", got)
	}
	if p.Name() != "redis" {
		t.Errorf("Name = %q", p.Name())
	}
}
