package outbound

import (
	"github.com/goliatone/go-outbound/providers/dida365"
	"github.com/goliatone/go-outbound/providers/feishu"
	"github.com/goliatone/go-outbound/providers/netbox"
)

func FeishuClient(cfg feishu.Config, opts ...Option) (*feishu.Client, error) {
	return feishu.New(cfg, opts...)
}

func Dida365Client(cfg dida365.Config, opts ...Option) (*dida365.Client, error) {
	return dida365.New(cfg, opts...)
}

func NetBoxClient(cfg netbox.Config, opts ...Option) (*netbox.Client, error) {
	return netbox.New(cfg, opts...)
}
