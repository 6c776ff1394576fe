package store

import (
	"fmt"
	"reflect"
)

// CustomFieldHook lets a store take over the conversion of some fields.
// The converter asks Match before its kind based handling, in both directions.
type CustomFieldHook struct {
	Name string
	// Match selects the fields handled by the hook.
	Match func(fd *FieldDescriptor) bool
	// Feed assigns the stored value to the field of instance, an addressable struct value.
	// depth is the nesting level of the record holding the field.
	Feed func(instance reflect.Value, stored any, fd *FieldDescriptor, depth int) error
	// Store returns the stored representation of value. depth is the nesting
	// level of the entity holding the field; nested entities are converted one level below it.
	Store func(fd *FieldDescriptor, value any, depth int) (any, error)
}

// RegisterCustomFieldKind adds hook, replacing a registered hook with the same name.
func (c *EntityConverter) RegisterCustomFieldKind(hook CustomFieldHook) error {
	if hook.Match == nil || hook.Feed == nil || hook.Store == nil {
		return fmt.Errorf("custom field kind %q needs match, feed and store handlers", hook.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, h := range c.hooks {
		if h.Name != "" && h.Name == hook.Name {
			c.hooks[i] = hook
			return nil
		}
	}

	c.hooks = append(c.hooks, hook)
	return nil
}

func (c *EntityConverter) customHook(fd *FieldDescriptor) (CustomFieldHook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, h := range c.hooks {
		if h.Match(fd) {
			return h, true
		}
	}

	return CustomFieldHook{}, false
}
