package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"servicehub/pkg/audit"
	"servicehub/pkg/auth"
	"servicehub/pkg/events"
	"servicehub/pkg/httpx"
	"servicehub/pkg/statusfsm"
	"servicehub/pkg/store"
	"servicehub/pkg/stream"
)

func (s *Server) createPurchase(w http.ResponseWriter, r *http.Request) {
	var item store.Purchase
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	item.Status = statusfsm.Normalize(item.Status)
	if !statusfsm.Valid(item.Status) {
		item.Status = statusfsm.Pending
	}
	id, err := s.Purchases.Create(r.Context(), item)
	if err != nil {
		log.Printf("create purchase: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.Metrics.IncPurchaseStatus(item.Status)
	s.publishPurchaseEvent(r, events.PurchaseEvent{
		Type:          events.TypePurchaseCreated,
		PurchaseID:    id.String(),
		ServiceID:     item.ServiceID,
		BuyerEmail:    item.CurrentUserEmail,
		ProviderEmail: item.ServiceProviderEmail,
		Status:        item.Status,
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"acknowledged": true,
		"insertedId":   id.String(),
	})
}

// listPurchasedItems serves the buyer view. Without an email parameter the
// listing is unfiltered, matching the historical wire behavior.
func (s *Server) listPurchasedItems(w http.ResponseWriter, r *http.Request) {
	s.listPurchases(w, r, func(email string) store.PurchaseFilter {
		return store.PurchaseFilter{BuyerEmail: email}
	})
}

// listTodoItems serves the provider work queue.
func (s *Server) listTodoItems(w http.ResponseWriter, r *http.Request) {
	s.listPurchases(w, r, func(email string) store.PurchaseFilter {
		return store.PurchaseFilter{ProviderEmail: email}
	})
}

func (s *Server) listPurchases(w http.ResponseWriter, r *http.Request, filterFor func(string) store.PurchaseFilter) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "unauthorized access")
		return
	}
	email := r.URL.Query().Get("email")
	filter := store.PurchaseFilter{}
	if email != "" {
		if !auth.OwnsIdentity(sess, email) {
			s.Metrics.IncAuthOutcome("forbidden")
			httpx.Message(w, http.StatusForbidden, "forbidden access")
			return
		}
		filter = filterFor(email)
	}
	items, err := s.Purchases.List(r.Context(), filter)
	if err != nil {
		log.Printf("list purchases: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

type statusPatch struct {
	ServiceStatus string `json:"serviceStatus"`
}

func (s *Server) patchPurchaseStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid id")
		return
	}
	var patch statusPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target := statusfsm.Normalize(patch.ServiceStatus)
	if !statusfsm.Valid(target) {
		httpx.Error(w, http.StatusBadRequest, "unknown status")
		return
	}

	current, err := s.Purchases.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"acknowledged":  true,
				"matchedCount":  0,
				"modifiedCount": 0,
			})
			return
		}
		log.Printf("load purchase: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if _, err := statusfsm.Transition(current.Status, target); err != nil {
		httpx.Error(w, http.StatusConflict, "illegal status transition")
		return
	}

	modified, err := s.Purchases.UpdateStatus(r.Context(), id, target)
	if err != nil {
		log.Printf("update purchase status: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	// The route is open, so most transitions carry no session. An empty
	// actor hash marks those; hashing "" would mint a constant pseudo-actor.
	actorHash := ""
	if sess, ok := auth.SessionFromContext(r.Context()); ok {
		actorHash = hashIdentity(sess.Email)
	}
	if err := s.Audit.Append(r.Context(), audit.Record{
		PurchaseID: id,
		FromStatus: current.Status,
		ToStatus:   target,
		ActorHash:  actorHash,
	}); err != nil {
		log.Printf("audit status change: %v", err)
	}
	s.Metrics.IncPurchaseStatus(target)
	s.publishPurchaseEvent(r, events.PurchaseEvent{
		Type:          events.TypeStatusChanged,
		PurchaseID:    id.String(),
		ServiceID:     current.ServiceID,
		BuyerEmail:    current.CurrentUserEmail,
		ProviderEmail: current.ServiceProviderEmail,
		Status:        target,
	})

	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"acknowledged":  true,
		"matchedCount":  modified,
		"modifiedCount": modified,
	})
}

func (s *Server) purchaseHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "unauthorized access")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid id")
		return
	}
	item, err := s.Purchases.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "purchase not found")
			return
		}
		log.Printf("load purchase: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !auth.OwnsIdentity(sess, item.CurrentUserEmail) && !auth.OwnsIdentity(sess, item.ServiceProviderEmail) {
		s.Metrics.IncAuthOutcome("forbidden")
		httpx.Message(w, http.StatusForbidden, "forbidden access")
		return
	}
	records, err := s.Audit.ListByPurchase(r.Context(), id)
	if err != nil {
		log.Printf("list status history: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, records)
}

func (s *Server) publishPurchaseEvent(r *http.Request, evt events.PurchaseEvent) {
	evt.At = time.Now().UTC()
	s.Events.Publish(stream.NewEvent(evt.Type, evt.BuyerEmail, evt.ProviderEmail, evt))
	if err := s.Bus.Publish(r.Context(), evt); err != nil {
		log.Printf("publish purchase event: %v", err)
	}
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "unauthorized access")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	// The client never sends data frames; CloseRead keeps a reader running
	// so close and control frames are handled and the context ends as soon
	// as the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-sub:
			if !open {
				return
			}
			if !evt.Visible(sess.Email) {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
