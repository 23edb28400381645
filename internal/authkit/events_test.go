package authkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestAfterResponsePublishesAnnouncedEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)

	bus := NewSessionEventBus(4)
	clock := &controllableClock{current: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	router := gin.New()
	router.Use(AfterResponse(bus, clock))
	router.POST("/announce", func(contextGin *gin.Context) {
		announceSessionEvent(contextGin, SessionEventSignIn, "google:sub-evt")
		contextGin.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	router.GET("/silent", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusOK)
	})

	response := httptest.NewRecorder()
	router.ServeHTTP(response, httptest.NewRequest(http.MethodPost, "/announce", nil))
	if response.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.Code)
	}

	event := drainEvent(t, bus)
	if event.Name != SessionEventSignIn {
		t.Fatalf("unexpected event name: %s", event.Name)
	}
	if event.UserID != "google:sub-evt" {
		t.Fatalf("unexpected event user: %s", event.UserID)
	}
	if event.Path != "/announce" {
		t.Fatalf("unexpected event path: %s", event.Path)
	}
	if event.Status != http.StatusCreated {
		t.Fatalf("event must carry the written status, got %d", event.Status)
	}
	if !event.OccurredAt.Equal(clock.Now()) {
		t.Fatalf("unexpected event time: %v", event.OccurredAt)
	}

	silentResponse := httptest.NewRecorder()
	router.ServeHTTP(silentResponse, httptest.NewRequest(http.MethodGet, "/silent", nil))
	select {
	case unexpected := <-bus.Events():
		t.Fatalf("handler without announcement must not publish, got %+v", unexpected)
	default:
	}
}

func TestSessionEventBusDropsWhenFull(t *testing.T) {
	t.Parallel()

	bus := NewSessionEventBus(1)
	bus.Publish(SessionEvent{Name: SessionEventSignIn})
	bus.Publish(SessionEvent{Name: SessionEventRefresh})

	if bus.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", bus.Dropped())
	}
	kept := <-bus.Events()
	if kept.Name != SessionEventSignIn {
		t.Fatalf("expected the first event kept, got %s", kept.Name)
	}
}

func TestSessionEventBusCloseIsTerminal(t *testing.T) {
	t.Parallel()

	bus := NewSessionEventBus(2)
	bus.Publish(SessionEvent{Name: SessionEventLogout})
	bus.Close()
	bus.Close()
	bus.Publish(SessionEvent{Name: SessionEventRefresh})

	if bus.Dropped() != 1 {
		t.Fatalf("publish after close must count as dropped, got %d", bus.Dropped())
	}

	first, open := <-bus.Events()
	if !open || first.Name != SessionEventLogout {
		t.Fatalf("expected buffered event before close, got %+v open=%v", first, open)
	}
	if _, open := <-bus.Events(); open {
		t.Fatalf("expected closed channel after drain")
	}
}

func TestSessionEventBusDefaultCapacity(t *testing.T) {
	t.Parallel()

	bus := NewSessionEventBus(0)
	if cap(bus.events) != 64 {
		t.Fatalf("expected default capacity of 64, got %d", cap(bus.events))
	}
}
