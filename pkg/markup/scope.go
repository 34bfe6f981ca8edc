package markup

// Scope is one compiled node of the field tree: the root, or the param of a
// section or struct field.
type Scope struct {
	// Owner is the section/struct field owning this scope; nil for the root.
	Owner *FieldDefinition

	Parent *Scope
	Root   *Scope

	// IndexKey, when set, attaches the ordered sequence of all values
	// assigned within the scope under this key.
	IndexKey string

	// IsStruct marks single-shot scopes that cannot be extended at runtime.
	IsStruct bool

	fields  map[string]*FieldDefinition
	order   []string
	statics []*FieldDefinition
}

func newScope(owner *FieldDefinition, parent *Scope) *Scope {
	s := &Scope{
		Owner:  owner,
		Parent: parent,
		fields: make(map[string]*FieldDefinition),
	}
	if parent == nil {
		s.Root = s
	} else {
		s.Root = parent.Root
	}
	return s
}

// Name is the owning field name, or "" for the root.
func (s *Scope) Name() string {
	if s.Owner == nil {
		return ""
	}
	return s.Owner.Name
}

// Field looks up a settable field by dispatch key.
func (s *Scope) Field(key string) (*FieldDefinition, bool) {
	f, ok := s.fields[key]
	return f, ok
}

// Fields returns the settable fields in declaration order.
func (s *Scope) Fields() []*FieldDefinition {
	out := make([]*FieldDefinition, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.fields[key])
	}
	return out
}

// Statics returns the static fields in declaration order.
func (s *Scope) Statics() []*FieldDefinition {
	return s.statics
}

// Defaults maps dispatch keys to default values for fields that declare one.
func (s *Scope) Defaults() map[string]any {
	out := make(map[string]any)
	for _, f := range s.Fields() {
		if f.HasDefault {
			out[f.Key()] = f.Default
		}
	}
	return out
}

// Required lists the dispatch keys of required fields.
func (s *Scope) Required() []string {
	var out []string
	for _, f := range s.Fields() {
		if f.Required {
			out = append(out, f.Key())
		}
	}
	return out
}

// Has reports whether key is declared in this scope as a field or a static.
func (s *Scope) Has(key string) bool {
	if _, ok := s.fields[key]; ok {
		return true
	}
	for _, st := range s.statics {
		if st.Key() == key {
			return true
		}
	}
	return false
}

func (s *Scope) add(f *FieldDefinition) {
	f.Owner = s
	if f.Kind == Static {
		s.statics = append(s.statics, f)
		return
	}
	s.fields[f.Key()] = f
	s.order = append(s.order, f.Key())
}
