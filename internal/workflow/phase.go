package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// KnownPhases is the board's canonical phase order; phaseNumber is the
// 1-based position in this list.
var KnownPhases = []string{
	"Discovery & Planning",
	"Requirements",
	"Solutions",
	"Figma Design",
	"Ticket Creation",
	"Coding",
	"Create MR",
	"Review MRs",
	"Merge MRs",
	"Testing",
	"Deployments",
}

// Phase is one stage of the board. Nil fields are absent from the JSON
// object, which is what lets a partial phase override only what it carries.
// Fields sent as null are kept in Extra.
type Phase struct {
	PhaseNumber *int
	Description *string
	UserStory   *string
	Ownership   []string
	Categories  map[string]Category
	Extra       map[string]json.RawMessage
}

// Category is a labeled bucket of items. itemCount is always len(Items).
type Category struct {
	Items []string
	Extra map[string]json.RawMessage
}

// Number returns the phase number, or 0 when unset.
func (p Phase) Number() int {
	if p.PhaseNumber == nil {
		return 0
	}
	return *p.PhaseNumber
}

// ItemCount is derived from Items.
func (c Category) ItemCount() int {
	return len(c.Items)
}

// NumberPhases assigns phaseNumber by position among KnownPhases. Phases
// outside that list are numbered after it in name order.
func NumberPhases(phases map[string]Phase) {
	position := make(map[string]int, len(KnownPhases))
	for i, name := range KnownPhases {
		position[name] = i + 1
	}
	var unknown []string
	for name, phase := range phases {
		n, ok := position[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		phase.PhaseNumber = intPtr(n)
		phases[name] = phase
	}
	sort.Strings(unknown)
	for i, name := range unknown {
		phase := phases[name]
		phase.PhaseNumber = intPtr(len(KnownPhases) + i + 1)
		phases[name] = phase
	}
}

// overlay applies the fields present in top over p. Fields absent from top
// keep p's value; arrays and category maps are replaced whole, and a field
// top carries as null clears p's value.
func (p Phase) overlay(top Phase) Phase {
	out := p.Clone()
	top = top.Clone()
	if top.PhaseNumber != nil {
		out.PhaseNumber = top.PhaseNumber
		delete(out.Extra, "phaseNumber")
	}
	if top.Description != nil {
		out.Description = top.Description
		delete(out.Extra, "description")
	}
	if top.UserStory != nil {
		out.UserStory = top.UserStory
		delete(out.Extra, "userStory")
	}
	if top.Ownership != nil {
		out.Ownership = top.Ownership
		delete(out.Extra, "ownership")
	}
	if top.Categories != nil {
		out.Categories = top.Categories
		delete(out.Extra, "categories")
	}
	for key, value := range top.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage, len(top.Extra))
		}
		out.Extra[key] = value
		if isNull(value) {
			out.clear(key)
		}
	}
	return out
}

func (p *Phase) clear(key string) {
	switch key {
	case "phaseNumber":
		p.PhaseNumber = nil
	case "description":
		p.Description = nil
	case "userStory":
		p.UserStory = nil
	case "ownership":
		p.Ownership = nil
	case "categories":
		p.Categories = nil
	}
}

// Clone returns a deep copy of p.
func (p Phase) Clone() Phase {
	out := Phase{Extra: cloneRawMap(p.Extra)}
	if p.PhaseNumber != nil {
		out.PhaseNumber = intPtr(*p.PhaseNumber)
	}
	if p.Description != nil {
		out.Description = stringPtr(*p.Description)
	}
	if p.UserStory != nil {
		out.UserStory = stringPtr(*p.UserStory)
	}
	if p.Ownership != nil {
		out.Ownership = append(make([]string, 0, len(p.Ownership)), p.Ownership...)
	}
	if p.Categories != nil {
		out.Categories = make(map[string]Category, len(p.Categories))
		for label, category := range p.Categories {
			out.Categories[label] = category.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of c.
func (c Category) Clone() Category {
	out := Category{Extra: cloneRawMap(c.Extra)}
	if c.Items != nil {
		out.Items = append(make([]string, 0, len(c.Items)), c.Items...)
	}
	return out
}

func (p Phase) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+5)
	for key, value := range p.Extra {
		out[key] = value
	}
	if p.PhaseNumber != nil {
		out["phaseNumber"] = *p.PhaseNumber
	}
	if p.Description != nil {
		out["description"] = *p.Description
	}
	if p.UserStory != nil {
		out["userStory"] = *p.UserStory
	}
	if p.Ownership != nil {
		out["ownership"] = p.Ownership
	}
	if p.Categories != nil {
		out["categories"] = p.Categories
	}
	return json.Marshal(out)
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Phase{}
	for key, value := range raw {
		if isNull(value) {
			// kept so a merge can tell an explicit null from an absent field
			if p.Extra == nil {
				p.Extra = make(map[string]json.RawMessage)
			}
			p.Extra[key] = json.RawMessage("null")
			continue
		}
		var err error
		switch key {
		case "phaseNumber":
			var n int
			err = json.Unmarshal(value, &n)
			p.PhaseNumber = &n
		case "description":
			var s string
			err = json.Unmarshal(value, &s)
			p.Description = &s
		case "userStory":
			var s string
			err = json.Unmarshal(value, &s)
			p.UserStory = &s
		case "ownership":
			p.Ownership = []string{}
			err = json.Unmarshal(value, &p.Ownership)
		case "categories":
			p.Categories = map[string]Category{}
			err = json.Unmarshal(value, &p.Categories)
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]json.RawMessage)
			}
			p.Extra[key] = cloneRaw(value)
		}
		if err != nil {
			return fmt.Errorf("decode phase field %s: %w", key, err)
		}
	}
	return nil
}

func (c Category) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+2)
	for key, value := range c.Extra {
		out[key] = value
	}
	items := c.Items
	if items == nil {
		items = []string{}
	}
	out["items"] = items
	out["itemCount"] = len(items)
	return json.Marshal(out)
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Category{}
	for key, value := range raw {
		switch key {
		case "itemCount":
			// derived from items
		case "items":
			if isNull(value) {
				continue
			}
			c.Items = []string{}
			if err := json.Unmarshal(value, &c.Items); err != nil {
				return fmt.Errorf("decode category items: %w", err)
			}
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]json.RawMessage)
			}
			c.Extra[key] = cloneRaw(value)
		}
	}
	return nil
}

func intPtr(v int) *int {
	return &v
}

func stringPtr(v string) *string {
	return &v
}
