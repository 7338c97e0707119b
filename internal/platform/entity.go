package platform

import (
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/mapping"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
)

// Entity is a live WooCommerce object as returned by the REST API.
type Entity struct {
	ObjectType string
	ID         int64
	data       map[string]interface{}
}

func NewEntity(objectType string, id int64, data map[string]interface{}) *Entity {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Entity{ObjectType: objectType, ID: id, data: data}
}

func (e *Entity) Field(path string) (interface{}, bool) {
	return mapping.Lookup(e.data, path)
}

// Meta reads a meta_data entry. Invoices also see the order's fields under their key.
func (e *Entity) Meta(key string) (interface{}, bool) {
	if v, ok := mapping.MetaValue(e.data, key); ok {
		return v, true
	}
	if e.ObjectType == models.ObjectInvoice {
		return mapping.Lookup(e.data, key)
	}
	return nil, false
}

func (e *Entity) Data() map[string]interface{} {
	return e.data
}

// resources maps object types onto REST collections. Invoices are rendered from orders.
var resources = map[string]string{
	models.ObjectCustomer: "customers",
	models.ObjectOrder:    "orders",
	models.ObjectProduct:  "products",
	models.ObjectCoupon:   "coupons",
	models.ObjectInvoice:  "orders",
}

// LinkMetaKey is the meta key a remote id is written back under, e.g. "_zoho_crm_contacts_id".
func LinkMetaKey(service, remoteModule string) string {
	return "_zoho_" + service + "_" + remoteModule + "_id"
}
