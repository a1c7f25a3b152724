package config

import (
	"reflect"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CustomHooks keeps viper's default duration and comma-separated slice decoding and adds home directory expansion.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		ExpandHomeHookFunc(),
	)),
}

// ExpandHomeHookFunc replaces a leading ~ in any string value with the current user's home directory.
func ExpandHomeHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.String {
			return data, nil
		}
		s, ok := data.(string)
		if !ok || (s != "~" && !strings.HasPrefix(s, "~/")) {
			return data, nil
		}
		return homedir.Expand(s)
	}
}
