package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
)

// OptionKey enumerates the purchase options a gateway understands. The set is
// closed: unknown keys are rejected when the bag is built, not at use.
type OptionKey string

const (
	OptionCurrency       OptionKey = "currency"
	OptionOrderID        OptionKey = "order_id"
	OptionReturnURL      OptionKey = "return_url"
	OptionDescription    OptionKey = "description"
	OptionCustomerEmail  OptionKey = "customer_email"
	OptionIdempotencyKey OptionKey = "idempotency_key"
)

type optionType int

const (
	typeString optionType = iota
	typeCurrency
	typeURL
	typeEmail
	typeToken
)

var optionTypes = map[OptionKey]optionType{
	OptionCurrency:       typeCurrency,
	OptionOrderID:        typeString,
	OptionReturnURL:      typeURL,
	OptionDescription:    typeString,
	OptionCustomerEmail:  typeEmail,
	OptionIdempotencyKey: typeToken,
}

var (
	ErrUnknownOptionKey = errors.New("unknown option key")
	ErrInvalidOption    = errors.New("invalid option value")
)

// Options is an immutable, validated bag of purchase parameters. The zero
// value is an empty bag.
type Options struct {
	values map[OptionKey]string
}

// BuildOptions validates rawPairs against the closed key enumeration and each
// key's declared value type. It fails on the first unknown key or type
// mismatch, naming the offending key. Presence of required keys (currency) is
// checked at purchase time, not here.
func BuildOptions(rawPairs map[string]string) (Options, error) {
	values := make(map[OptionKey]string, len(rawPairs))
	for raw, value := range rawPairs {
		key := OptionKey(raw)
		typ, ok := optionTypes[key]
		if !ok {
			return Options{}, fmt.Errorf("BuildOptions: %q: %w", raw, ErrUnknownOptionKey)
		}
		if err := checkOptionValue(typ, value); err != nil {
			return Options{}, fmt.Errorf("BuildOptions: %q: %w", raw, err)
		}
		values[key] = value
	}
	return Options{values: values}, nil
}

func checkOptionValue(typ optionType, value string) error {
	switch typ {
	case typeCurrency:
		if !Currency(value).Supported() {
			return fmt.Errorf("%w: %w", ErrInvalidOption, ErrUnsupportedCurrency)
		}
	case typeURL:
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: must be an absolute URL", ErrInvalidOption)
		}
	case typeEmail:
		if _, err := mail.ParseAddress(value); err != nil {
			return fmt.Errorf("%w: must be an email address", ErrInvalidOption)
		}
	case typeToken, typeString:
		if value == "" {
			return fmt.Errorf("%w: must not be empty", ErrInvalidOption)
		}
	}
	return nil
}

func (o Options) Get(key OptionKey) (string, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o Options) Has(key OptionKey) bool {
	_, ok := o.values[key]
	return ok
}

func (o Options) Len() int { return len(o.values) }

// Pairs returns a copy of the underlying key/value pairs, e.g. for storage.
func (o Options) Pairs() map[string]string {
	pairs := make(map[string]string, len(o.values))
	for k, v := range o.values {
		pairs[string(k)] = v
	}
	return pairs
}

func (o Options) Currency() (Currency, bool) {
	v, ok := o.values[OptionCurrency]
	return Currency(v), ok
}

func (o Options) OrderID() (string, bool) {
	return o.Get(OptionOrderID)
}

func (o Options) ReturnURL() (*url.URL, bool) {
	v, ok := o.values[OptionReturnURL]
	if !ok {
		return nil, false
	}
	u, err := url.Parse(v)
	if err != nil {
		return nil, false
	}
	return u, true
}

func (o Options) Description() (string, bool) {
	return o.Get(OptionDescription)
}

func (o Options) CustomerEmail() (string, bool) {
	return o.Get(OptionCustomerEmail)
}

func (o Options) IdempotencyKey() (string, bool) {
	return o.Get(OptionIdempotencyKey)
}
