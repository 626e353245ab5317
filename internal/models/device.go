package models

// Device statuses. Deleted is terminal.
const (
	DeviceStatusActive   = "active"
	DeviceStatusDisabled = "disabled"
	DeviceStatusDeleted  = "deleted"
)

// Device occupies one of the user's slots. Slot numbers are unique among the
// user's non-deleted devices and drawn from [1, devices_limit].
type Device struct {
	BaseModel

	UserID uint `json:"user_id" gorm:"index;not null"`

	Slot       int    `json:"slot" gorm:"not null;default:1"`
	Label      string `json:"label" gorm:"size:64"`
	DeviceType string `json:"device_type" gorm:"size:16;not null;default:'phone'"`
	Status     string `json:"status" gorm:"size:16;not null;default:'active'"`

	// Panel account backing this device.
	PanelUsername string `json:"panel_username" gorm:"size:128;index"`
	PanelUserID   string `json:"panel_user_id" gorm:"size:64"`
}
