package domain

import "time"

// Asset is a loaded, immutable backend resource.
type Asset struct {
	Key         Key
	Address     string
	ContentType string
	Data        []byte
	LoadedAt    time.Time
}

func (a Asset) Size() int {
	return len(a.Data)
}

type Placement struct {
	Position [3]float64 `json:"position"`
	// Rotation quaternion (x, y, z, w)
	Rotation [4]float64 `json:"rotation"`
	Parent   string     `json:"parent,omitempty"`
}

var IdentityRotation = [4]float64{0, 0, 0, 1}

// Instance is a spawned copy of an asset.
//
// The backend owns the instance state. An Instance only identifies it.
type Instance struct {
	ID        string
	Key       Key
	Address   string
	CreatedAt time.Time
}
