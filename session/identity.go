package session

import (
	"bytes"
	"encoding/json"
	"maps"
)

// DeveloperID accepts both numeric and string ids from the backend.
type DeveloperID string

func (id *DeveloperID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = DeveloperID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = DeveloperID(n.String())
	return nil
}

// Identity is the developer profile as returned by the current-identity
// endpoint. Fields the client does not model are kept in Extra.
type Identity struct {
	ID            DeveloperID    `json:"id"`
	Name          string         `json:"name,omitempty"`
	Username      string         `json:"username,omitempty"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"emailVerified"`
	IsVerified    bool           `json:"isVerified"`
	Extra         map[string]any `json:"-"`
}

var identityFields = []string{"id", "name", "username", "email", "emailVerified", "isVerified"}

func (i *Identity) UnmarshalJSON(data []byte) error {
	type plain Identity
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, name := range identityFields {
		delete(all, name)
	}
	if len(all) > 0 {
		p.Extra = all
	}

	*i = Identity(p)
	return nil
}

func (i Identity) MarshalJSON() ([]byte, error) {
	type plain Identity
	known, err := json.Marshal(plain(i))
	if err != nil || len(i.Extra) == 0 {
		return known, err
	}

	merged := make(map[string]any, len(i.Extra)+len(identityFields))
	maps.Copy(merged, i.Extra)
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// Empty reports whether the record identifies nobody.
func (i *Identity) Empty() bool {
	return i == nil || (i.ID == "" && i.Email == "")
}

// Clone copies the identity so snapshots never share mutable state.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.Extra != nil {
		c.Extra = maps.Clone(i.Extra)
	}
	return &c
}

// DisplayName picks the most human field available.
func (i *Identity) DisplayName() string {
	switch {
	case i == nil:
		return ""
	case i.Name != "":
		return i.Name
	case i.Username != "":
		return i.Username
	case i.Email != "":
		return i.Email
	default:
		return string(i.ID)
	}
}

// IdentityPatch carries a partial profile update; nil fields are left alone.
type IdentityPatch struct {
	Name          *string
	Username      *string
	Email         *string
	EmailVerified *bool
	IsVerified    *bool
	Extra         map[string]any
}

// apply shallow-merges the patch into i.
func (p IdentityPatch) apply(i *Identity) {
	if p.Name != nil {
		i.Name = *p.Name
	}
	if p.Username != nil {
		i.Username = *p.Username
	}
	if p.Email != nil {
		i.Email = *p.Email
	}
	if p.EmailVerified != nil {
		i.EmailVerified = *p.EmailVerified
	}
	if p.IsVerified != nil {
		i.IsVerified = *p.IsVerified
	}
	if len(p.Extra) > 0 {
		if i.Extra == nil {
			i.Extra = make(map[string]any, len(p.Extra))
		}
		maps.Copy(i.Extra, p.Extra)
	}
}

// String is used in log lines.
func (id DeveloperID) String() string {
	return string(id)
}
