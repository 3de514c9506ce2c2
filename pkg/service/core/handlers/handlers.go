package handlers

import (
	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/service/core"
)

type Handlers struct {
	CollectionHandler *CollectionHandler
	ViewHandler       *ViewHandler
	AuthHandler       *AuthHandler
}

func NewHandlers(s *core.Services, cookies *auth.Cookies, defaults ListDefaults) *Handlers {
	return &Handlers{
		CollectionHandler: NewCollectionHandler(s.CollectionService, defaults),
		ViewHandler:       NewViewHandler(s.Views),
		AuthHandler:       NewAuthHandler(s.AuthService, cookies),
	}
}
