package domain

import "time"

// Status is the lifecycle state of an order. The wire values are the ones the
// backend and the push channel use.
type Status string

const (
	StatusPending    Status = "PENDIENTE"
	StatusInProgress Status = "EN_PREPARACION"
	StatusReady      Status = "LISTO"
	StatusDelivered  Status = "ENTREGADO"
	StatusCancelled  Status = "CANCELADO"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusInProgress, StatusReady, StatusDelivered, StatusCancelled,
}

// Next returns the forward transition from s on the preparation track
// (Pending -> InProgress -> Ready). Delivered and Cancelled are reached through
// the cashier-level commands, never through Next.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusPending:
		return StatusInProgress, true
	case StatusInProgress:
		return StatusReady, true
	default:
		return "", false
	}
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReady, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// DeliveryMode says how an order leaves the store.
type DeliveryMode string

const (
	ModeDelivery DeliveryMode = "DELIVERY"
	ModePickUp   DeliveryMode = "RETIRO"
)

// Role is the operational role a dashboard runs as.
type Role string

const (
	RoleKitchen  Role = "kitchen"
	RoleCashier  Role = "cashier"
	RoleDelivery Role = "delivery"
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

// VisibleStatuses returns the board columns a role works with. The kitchen only
// handles the preparation track; cashier and admin see the full lifecycle.
func VisibleStatuses(r Role) []Status {
	switch r {
	case RoleKitchen:
		return []Status{StatusPending, StatusInProgress, StatusReady}
	case RoleDelivery:
		return []Status{StatusReady, StatusDelivered}
	default:
		return AllStatuses
	}
}

// OrderItem is one line of a placed order.
type OrderItem struct {
	ArticleID int64   `json:"articuloId"`
	Name      string  `json:"nombre"`
	Quantity  int     `json:"cantidad"`
	UnitPrice float64 `json:"precioUnitario"`
}

// Order is a placed order as the backend reports it. Fields are mutated only
// through the board engine so the local and server views cannot diverge by
// partial edit.
type Order struct {
	ID                int64        `json:"id"`
	Status            Status       `json:"estado"`
	Customer          string       `json:"cliente"`
	Items             []OrderItem  `json:"items"`
	Subtotal          float64      `json:"subtotal"`
	DeliveryCost      float64      `json:"costoEnvio"`
	Total             float64      `json:"total"`
	CreatedAt         time.Time    `json:"fechaCreacion"`
	EstimatedMinutes  int          `json:"minutosEstimados"`
	EstimatedReadyAt  time.Time    `json:"horaEstimada"`
	DeliveryMode      DeliveryMode `json:"modoEntrega"`
	DeliveryAddressID *int64       `json:"direccionId,omitempty"`
	Notes             string       `json:"notas,omitempty"`

	// InFlight tags an order whose transition command is outstanding; it is a
	// client-side marker and never serialized.
	InFlight bool `json:"-"`
}

// Article is a catalog entry the cart builds lines from.
type Article struct {
	ID          int64   `json:"id"`
	Name        string  `json:"nombre"`
	Price       float64 `json:"precio"`
	PrepMinutes int     `json:"minutosPreparacion"`
	ImageRef    string  `json:"imagen,omitempty"`
	InStock     bool    `json:"hayStock"`
}

// CartItem is one line of the in-progress cart, keyed by article.
type CartItem struct {
	ArticleID   int64
	Name        string
	UnitPrice   float64
	Quantity    int
	ImageRef    string
	PrepMinutes int
}

// DeliveryInfo carries the checkout choices attached to the cart.
type DeliveryInfo struct {
	Mode      DeliveryMode
	Notes     string
	AddressID *int64
}

// DefaultDeliveryInfo is the state a fresh or cleared cart starts with.
func DefaultDeliveryInfo() DeliveryInfo {
	return DeliveryInfo{Mode: ModePickUp}
}

// CreateOrderRequest is what checkout hands to the backend.
type CreateOrderRequest struct {
	Customer          string       `json:"cliente"`
	Items             []OrderItem  `json:"items"`
	DeliveryMode      DeliveryMode `json:"modoEntrega"`
	DeliveryAddressID *int64       `json:"direccionId,omitempty"`
	Notes             string       `json:"notas,omitempty"`
	Subtotal          float64      `json:"subtotal"`
	DeliveryCost      float64      `json:"costoEnvio"`
	Total             float64      `json:"total"`
}
