// Package schema embeds the JSON schema that profile files are checked against.
package schema

import _ "embed"

//go:embed profiles.v1.json
var ProfilesV1 []byte
