package config

import (
	"errors"
	"reflect"
)

type Config struct {
	Log *Log `yaml:"log"`

	Upstream  *Upstream  `yaml:"upstream"`
	Mempool   *Mempool   `yaml:"mempool"`
	Verifier  *Verifier  `yaml:"verifier"`
	Broadcast *Broadcast `yaml:"broadcast"`

	Metrics *Metrics `yaml:"metrics"`
}

func New() *Config {
	return &Config{
		Log: &Log{},

		Upstream:  &Upstream{},
		Mempool:   &Mempool{},
		Verifier:  &Verifier{},
		Broadcast: &Broadcast{},

		Metrics: &Metrics{},
	}
}

var (
	errConfigNoUpstreams = errors.New("no upstream endpoints configured, shutting down...")
)

func (c *Config) Validate() error {
	if len(c.Upstream.Endpoints) == 0 {
		return errConfigNoUpstreams
	}

	return validate(c)
}

type validatee interface {
	Validate() error
}

func validate(item interface{}) error {
	v := reflect.ValueOf(item)

	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return nil
	}

	errs := []error{}
	for idx := 0; idx < v.NumField(); idx++ {
		field := v.Field(idx)

		if field.Kind() == reflect.Ptr && field.IsNil() {
			continue
		}

		if v, ok := field.Interface().(validatee); ok {
			if err := v.Validate(); err != nil {
				errs = append(errs, err)
			}
		}

		if field.Kind() == reflect.Ptr {
			field = field.Elem()
		}

		switch field.Kind() {
		case reflect.Struct:
			if err := validate(field.Interface()); err != nil {
				errs = append(errs, err)
			}
		case reflect.Slice, reflect.Array:
			for jdx := 0; jdx < field.Len(); jdx++ {
				if err := validate(field.Index(jdx).Interface()); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	switch len(errs) {
	default:
		return errors.Join(errs...)
	case 1:
		return errs[0]
	case 0:
		return nil
	}
}
