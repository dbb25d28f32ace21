package enums

// ChangeTable names a collection whose rows emit change notifications.
type ChangeTable string

const (
	ChangeTableOrders       ChangeTable = "orders"
	ChangeTableCertificates ChangeTable = "order_certificates"
	ChangeTableStages       ChangeTable = "shipment_stages"
	ChangeTableCart         ChangeTable = "cart_items"
	ChangeTableProducts     ChangeTable = "products"
)

// ChangeOp is the kind of write that triggered a notification.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)
