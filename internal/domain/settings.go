package domain

// Settings is the per-device region and language selection.
type Settings struct {
	Region   string `json:"region"`
	Language string `json:"language"`
}
