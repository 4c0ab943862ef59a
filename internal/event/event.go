// Package event defines the typed change notifications the storefront core
// publishes, and the in-process bus that delivers them to presentation code.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies a notification kind.
type Type string

const (
	TypeCatalogChanged    Type = "catalog.changed"
	TypePreviewChanged    Type = "preview.changed"
	TypeLotChanged        Type = "lot.changed"
	TypeOrderReady        Type = "order.ready"
	TypeFormErrorsChanged Type = "form_errors.changed"
)

// Notification is implemented by every payload variant below.
type Notification interface {
	Type() Type
}

// LotView is a read-only snapshot of a lot. It never aliases the lot's own buffers.
type LotView struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	About             string `json:"about"`
	Description       string `json:"description"`
	Image             string `json:"image"`
	Status            string `json:"status"`
	Datetime          string `json:"datetime"`
	Price             int    `json:"price"`
	MinPrice          int    `json:"minPrice"`
	History           []int  `json:"history"`
	UserLeads         bool   `json:"userLeads"`
	UserParticipates  bool   `json:"userParticipates"`
	BidMinimum        int    `json:"bidMinimum"`
	TimeStatusText    string `json:"timeStatusText"`
	AuctionStatusText string `json:"auctionStatusText"`
}

// OrderDraft is the purchase form's working data.
type OrderDraft struct {
	Email string   `json:"email"`
	Phone string   `json:"phone"`
	Items []string `json:"items"`
}

// CatalogChanged carries the full lot collection after a reload.
type CatalogChanged struct {
	Lots []LotView `json:"lots"`
}

// PreviewChanged carries the previewed lot. A nil Lot closes the preview.
type PreviewChanged struct {
	Lot *LotView `json:"lot"`
}

// LotChanged is published after a bid moves a lot's price.
type LotChanged struct {
	ID    string `json:"id"`
	Price int    `json:"price"`
}

// OrderReady is published whenever the order draft validates.
type OrderReady struct {
	Order OrderDraft `json:"order"`
}

// FormErrorsChanged carries the complete field-to-message mapping, possibly empty.
type FormErrorsChanged struct {
	Errors map[string]string `json:"errors"`
}

func (CatalogChanged) Type() Type    { return TypeCatalogChanged }
func (PreviewChanged) Type() Type    { return TypePreviewChanged }
func (LotChanged) Type() Type        { return TypeLotChanged }
func (OrderReady) Type() Type        { return TypeOrderReady }
func (FormErrorsChanged) Type() Type { return TypeFormErrorsChanged }

// Envelope is the wire form of a notification for out-of-process consumers.
type Envelope struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Encode wraps n in an Envelope stamped with at.
func Encode(n Notification, at time.Time) (Envelope, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshalling %s: %w", n.Type(), err)
	}
	return Envelope{Type: n.Type(), Data: data, CreatedAt: at.UTC()}, nil
}

// Decode reconstructs the notification carried by e.
func Decode(e Envelope) (Notification, error) {
	var (
		n   Notification
		err error
	)
	switch e.Type {
	case TypeCatalogChanged:
		var d CatalogChanged
		err = json.Unmarshal(e.Data, &d)
		n = d
	case TypePreviewChanged:
		var d PreviewChanged
		err = json.Unmarshal(e.Data, &d)
		n = d
	case TypeLotChanged:
		var d LotChanged
		err = json.Unmarshal(e.Data, &d)
		n = d
	case TypeOrderReady:
		var d OrderReady
		err = json.Unmarshal(e.Data, &d)
		n = d
	case TypeFormErrorsChanged:
		var d FormErrorsChanged
		err = json.Unmarshal(e.Data, &d)
		n = d
	default:
		return nil, fmt.Errorf("unknown notification type %q", e.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshalling %s: %w", e.Type, err)
	}
	return n, nil
}
