package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// OrderStatus is the delivery state of an order. The ordinal is what the
// server expects on updates.
type OrderStatus int

const (
	StatusNotReceived          OrderStatus = 0
	StatusReceivedNotDelivered OrderStatus = 1
	StatusReceivedInTransit    OrderStatus = 2
	StatusDelivered            OrderStatus = 3
)

// Statuses is the fixed selection list; a status's index equals its ordinal.
var Statuses = []OrderStatus{
	StatusNotReceived,
	StatusReceivedNotDelivered,
	StatusReceivedInTransit,
	StatusDelivered,
}

var statusNames = map[OrderStatus]string{
	StatusNotReceived:          "NotReceived",
	StatusReceivedNotDelivered: "ReceivedNotDelivered",
	StatusReceivedInTransit:    "ReceivedInTransit",
	StatusDelivered:            "Delivered",
}

// Enum names as serialized by the server when it writes enums as strings.
var serverStatusNames = map[string]OrderStatus{
	"ChuaNhan":       StatusNotReceived,
	"DaNhanChuaGiao": StatusReceivedNotDelivered,
	"DaNhanDangGiao": StatusReceivedInTransit,
	"DaGiao":         StatusDelivered,
}

func (s OrderStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s OrderStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("OrderStatus(%d)", int(s))
}

// StatusFromOrdinal maps a selection position to a status.
func StatusFromOrdinal(ordinal int) (OrderStatus, error) {
	if ordinal < 0 || ordinal >= len(Statuses) {
		return 0, fmt.Errorf("unknown status ordinal %d", ordinal)
	}
	return Statuses[ordinal], nil
}

// ParseStatus accepts an ordinal, a server enum name or a Go-side name.
func ParseStatus(v string) (OrderStatus, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return StatusFromOrdinal(n)
	}
	if s, ok := serverStatusNames[v]; ok {
		return s, nil
	}
	for s, name := range statusNames {
		if name == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", v)
}

func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(s))), nil
}

func (s *OrderStatus) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := ParseStatus(str)
		if err != nil {
			return err
		}
		*s = v
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := StatusFromOrdinal(n)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type DeliveryStaff struct {
	StaffID      int    `json:"staffId"`
	FullName     string `json:"fullName"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
	VehicleType  string `json:"vehicleType,omitempty"`
	VehiclePlate string `json:"vehiclePlate,omitempty"`
	IsAvailable  bool   `json:"isAvailable"`
}

type LocationCheckpoint struct {
	CheckpointID int       `json:"checkpointId"`
	OrderID      int       `json:"orderId"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	LocationName string    `json:"locationName,omitempty"`
	Notes        string    `json:"notes"`
	CheckInTime  time.Time `json:"checkInTime"`
}

// Layouts the server uses for timestamps. Values read back from its database
// carry no offset and are taken as UTC.
var serverTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

// ParseServerTime accepts RFC3339 and the zone-less form the server emits.
func ParseServerTime(v string) (time.Time, error) {
	for _, layout := range serverTimeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

func (c *LocationCheckpoint) UnmarshalJSON(b []byte) error {
	type plain LocationCheckpoint
	aux := struct {
		*plain
		CheckInTime *string `json:"checkInTime"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.CheckInTime == nil || *aux.CheckInTime == "" {
		c.CheckInTime = time.Time{}
		return nil
	}
	t, err := ParseServerTime(*aux.CheckInTime)
	if err != nil {
		return err
	}
	c.CheckInTime = t
	return nil
}

type Order struct {
	OrderID         int                  `json:"orderId"`
	OrderCode       string               `json:"orderCode"`
	Status          OrderStatus          `json:"status"`
	AssignedStaffID *string              `json:"assignedStaffId,omitempty"`
	AssignedStaff   *DeliveryStaff       `json:"assignedStaff,omitempty"`
	Checkpoints     []LocationCheckpoint `json:"checkpoints,omitempty"`
}

// DisplayCode falls back to the numeric id when the server sent no code.
func (o *Order) DisplayCode() string {
	if o.OrderCode != "" {
		return o.OrderCode
	}
	return strconv.Itoa(o.OrderID)
}

type UpdateOrderStatusRequest struct {
	OrderID string      `json:"orderId"`
	StaffID string      `json:"staffId"`
	Status  OrderStatus `json:"status"`
	Notes   string      `json:"notes"`
}

type CheckInRequest struct {
	OrderID   int     `json:"orderId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Notes     string  `json:"notes"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type User struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
