package utils

import (
	"github.com/denisbrodbeck/machineid"
)

// HWID identifies this machine to the remote without exposing the raw
// machine id.
var HWID = hwid()

func hwid() string {
	id, err := machineid.ProtectedID("treesync")
	if err != nil || id == "" {
		return "unknown"
	}
	if len(id) > 16 {
		id = id[:16]
	}
	return id
}
