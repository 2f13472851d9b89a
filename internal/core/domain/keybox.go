package domain

import "time"

// Keybox is the account's active set of cooperating key bundles: the app
// bundle, the hardware bundle and a reference to the server-side cosigner
// key. Exactly one Keybox is active per account; a completed recovery
// replaces it atomically.
type Keybox struct {
	AccountId         string
	AppKeys           AppKeyBundle
	HardwareKeys      HardwareKeyBundle
	ServerCosignerKey string
	Network           string
	CreatedAt         time.Time
	RotatedAt         time.Time
}

func NewKeybox(
	accountId string, appKeys AppKeyBundle, hwKeys HardwareKeyBundle,
	serverCosignerKey, network string,
) *Keybox {
	return &Keybox{
		AccountId:         accountId,
		AppKeys:           appKeys,
		HardwareKeys:      hwKeys,
		ServerCosignerKey: serverCosignerKey,
		Network:           network,
		CreatedAt:         time.Now(),
	}
}

// Rotate returns a copy of the keybox with both destination bundles swapped
// in. The server cosigner reference and network parameters carry over.
func (k Keybox) Rotate(appKeys AppKeyBundle, hwKeys HardwareKeyBundle) Keybox {
	rotated := k
	rotated.AppKeys = appKeys
	rotated.HardwareKeys = hwKeys
	rotated.RotatedAt = time.Now()
	return rotated
}
