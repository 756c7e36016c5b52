package common

//go:generate enumer -json -type StorageStatus -trimprefix Storage

// StorageStatus is the tri-state fetchability of a remote product.
type StorageStatus int

const (
	// StorageONLINE products can be fetched directly.
	StorageONLINE StorageStatus = iota
	// StorageSTAGING products have been ordered and are being moved to online storage.
	StorageSTAGING
	// StorageOFFLINE products are archived and must be ordered before retrieval.
	StorageOFFLINE
)
