package http

import "github.com/gofiber/fiber/v2"

type Handler interface {
	Handle(ctx *fiber.Ctx) error
}

type HandlerTransport interface {
	GetTransport() interface{}
}

type HandlerTransportDTO struct {
	AddBlacklistHandler    Handler
	RemoveBlacklistHandler Handler
	GetStatsHandler        Handler
	GetVersionHandler      Handler
	ForwardedHandler       Handler
}

func (t *HandlerTransportDTO) GetTransport() interface{} {
	return t
}
