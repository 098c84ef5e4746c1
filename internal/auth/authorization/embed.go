package authorization

import (
	"embed"
)

// CasbinFS embeds the Casbin model and policy so the relay needs no files on disk.
//
//go:embed casbin/model.conf casbin/policy.csv
var CasbinFS embed.FS
