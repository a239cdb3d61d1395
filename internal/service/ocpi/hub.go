package ocpi

// Hub holds the CommonAPI instances of every identity the local system
// operates as. The first instance added becomes the default one served on
// the public OCPI surface; the others are addressed explicitly, e.g. by the
// administrative API.
type Hub struct {
	apis       map[string]*CommonAPI
	defaultKey string
}

func NewHub() *Hub {
	return &Hub{apis: make(map[string]*CommonAPI)}
}

func (h *Hub) Add(api *CommonAPI) {
	key := api.LocalParty().Identity.Key()
	if len(h.apis) == 0 {
		h.defaultKey = key
	}
	h.apis[key] = api
}

func (h *Hub) Default() *CommonAPI {
	return h.apis[h.defaultKey]
}

func (h *Hub) ForKey(key string) (*CommonAPI, bool) {
	api, ok := h.apis[key]
	return api, ok
}

func (h *Hub) All() []*CommonAPI {
	out := make([]*CommonAPI, 0, len(h.apis))
	for _, api := range h.apis {
		out = append(out, api)
	}
	return out
}
