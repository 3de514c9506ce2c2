package core

import "github.com/alris/cms-backend/pkg/service"

type Services struct {
	CollectionService service.CollectionService
	AuthService       service.AuthService
	Views             *Views
}

func NewServices(
	collectionService service.CollectionService,
	authService service.AuthService,
	views *Views,
) *Services {
	return &Services{
		CollectionService: collectionService,
		AuthService:       authService,
		Views:             views,
	}
}
