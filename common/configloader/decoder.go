package configloader

import (
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

func decode(input map[string]interface{}, target interface{}) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHook,
		stringToIntHook,
	)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           target,
		DecodeHook:       hook,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// stringToBoolHook разбирает "true"/"false" из ENV.
func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

// stringToIntHook разбирает числа из ENV ("8080").
func stringToIntHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f != reflect.String {
		return data, nil
	}
	switch t {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(data.(string), 10, 64)
	case reflect.Float64:
		return strconv.ParseFloat(data.(string), 64)
	}
	return data, nil
}
