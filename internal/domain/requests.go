package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username           string             `json:"username" validate:"required,min=3,max=64"`
	Name               string             `json:"name" validate:"required"`
	Role               Role               `json:"role" validate:"required,oneof=admin supervisor fos retailer technician"`
	Password           string             `json:"password" validate:"required,min=6"`
	SupervisorID       string             `json:"supervisor_id"`
	SupervisorCategory SupervisorCategory `json:"supervisor_category" validate:"omitempty,oneof=sales service both"`
	TechnicianType     TechnicianType     `json:"technician_type" validate:"omitempty,oneof=own freelance"`
	Phone              string             `json:"phone" validate:"omitempty,numeric,min=10,max=15"`
	WhatsApp           string             `json:"whatsapp" validate:"omitempty,numeric,min=10,max=15"`
	FosIDs             []string           `json:"fos_ids"`
}

type OperatorCreateRequest struct {
	Name string `json:"name" validate:"required"`
}

type OperatorPriceRequest struct {
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
}

type ProductCreateRequest struct {
	Name       string          `json:"name" validate:"required"`
	OperatorID string          `json:"operator_id"`
	Serialized bool            `json:"serialized"`
	Meterable  bool            `json:"meterable"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type PincodeAssignRequest struct {
	Pincode      string `json:"pincode" validate:"required,numeric,len=6"`
	SupervisorID string `json:"supervisor_id" validate:"required"`
}

type RetailerFosMapRequest struct {
	RetailerID string `json:"retailer_id" validate:"required"`
	FosID      string `json:"fos_id" validate:"required"`
}

type FosOperatorMapRequest struct {
	FosID      string `json:"fos_id" validate:"required"`
	OperatorID string `json:"operator_id" validate:"required"`
}

// UnitBatchCreateRequest registers a purchase of serial-numbered units.
type UnitBatchCreateRequest struct {
	Kind          UnitKind         `json:"kind" validate:"required,oneof=sim handset product"`
	OperatorID    string           `json:"operator_id"`
	ProductID     string           `json:"product_id"`
	Model         string           `json:"model"`
	BillNumber    string           `json:"bill_number"`
	BillDate      *time.Time       `json:"bill_date"`
	Count         int              `json:"count" validate:"required,min=1"`
	Serials       []string         `json:"serials" validate:"required,min=1"`
	HolderID      string           `json:"holder_id"`
	PurchasePrice *decimal.Decimal `json:"purchase_price"`
	SellingPrice  *decimal.Decimal `json:"selling_price"`
}

type StockReceiveRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
}

type UnitTransferRequest struct {
	Serials []string `json:"serials" validate:"required,min=1"`
	ToID    string   `json:"to_id" validate:"required"`
	Remark  string   `json:"remark"`
}

type UnitReturnRequest struct {
	Serials []string `json:"serials" validate:"required,min=1"`
	Remark  string   `json:"remark"`
}

type BatchResult struct {
	BatchID string   `json:"batch_id"`
	Count   int      `json:"count"`
	Status  string   `json:"status"`
	ToID    string   `json:"to_id,omitempty"`
	Serials []string `json:"serials,omitempty"`
}

type StockTransferRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
	ToID      string          `json:"to_id"`
	Type      TransferType    `json:"type" validate:"omitempty,oneof=transfer return"`
	Remark    string          `json:"remark"`
}

type StockTakeBackRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
	FromID    string          `json:"from_id" validate:"required"`
}

type CashTransferRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Remark string          `json:"remark"`
}

type TechnicianPaymentRequest struct {
	TechnicianID string          `json:"technician_id" validate:"required"`
	WorkOrderID  string          `json:"work_order_id"`
	Amount       decimal.Decimal `json:"amount"`
	Remark       string          `json:"remark"`
}

type CollectRequest struct {
	FromID         string          `json:"from_id" validate:"required"`
	Channel        Channel         `json:"channel" validate:"required,oneof=ec sim handset"`
	OperatorID     string          `json:"operator_id"`
	Amount         decimal.Decimal `json:"amount"`
	CollectionDate *time.Time      `json:"collection_date"`
	Remarks        string          `json:"remarks"`
}

type CollectResult struct {
	Collections []Collection    `json:"collections"`
	Total       decimal.Decimal `json:"total"`
}

type PendingDebtor struct {
	User    User            `json:"user"`
	Wallets []Wallet        `json:"wallets"`
	Total   decimal.Decimal `json:"total"`
}

type WorkOrderCreateRequest struct {
	CustomerName string          `json:"customer_name" validate:"required"`
	MobileNo     string          `json:"mobile_no" validate:"required,numeric,min=10,max=15"`
	WhatsAppNo   string          `json:"whatsapp_no" validate:"omitempty,numeric,min=10,max=15"`
	Address      string          `json:"address"`
	Pincode      string          `json:"pincode" validate:"required,numeric,len=6"`
	OperatorID   string          `json:"operator_id"`
	ServiceType  string          `json:"service_type"`
	Amount       decimal.Decimal `json:"amount"`
	DeadlineAt   *time.Time      `json:"deadline_at"`
}

type AssignRequest struct {
	TechnicianID string `json:"technician_id" validate:"required"`
}

type AssignResult struct {
	WorkOrder WorkOrder `json:"work_order"`
	Warning   string    `json:"warning,omitempty"`
}

type MaterialInput struct {
	ProductID string          `json:"product_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
	Serials   []string        `json:"serials"`
}

type WorkCloseRequest struct {
	OTP                     string          `json:"otp"`
	CollectedAmount         decimal.Decimal `json:"collected_amount"`
	WhoCollectedID          string          `json:"who_collected_id"`
	Materials               []MaterialInput `json:"materials" validate:"dive"`
	RepairType              string          `json:"repair_type"`
	ReturnedProductID       string          `json:"returned_product_id"`
	ReturnedSerial          string          `json:"returned_serial"`
	ReturnedQty             decimal.Decimal `json:"returned_qty"`
	FreelancerPaymentAmount decimal.Decimal `json:"freelancer_payment_amount"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type DeadlineRequest struct {
	DeadlineAt time.Time `json:"deadline_at" validate:"required"`
}

type OtpResult struct {
	WorkOrderID string    `json:"work_order_id"`
	SentTo      string    `json:"sent_to,omitempty"`
	Delivered   bool      `json:"delivered"`
	SentAt      time.Time `json:"sent_at"`
}

// EcSaleRow is one parsed line of an EC recharge sales upload.
type EcSaleRow struct {
	Line                    int             `json:"line"`
	OrderID                 string          `json:"order_id"`
	OrderDate               time.Time       `json:"order_date"`
	PartnerID               string          `json:"partner_id"`
	PartnerName             string          `json:"partner_name"`
	TransferAmount          decimal.Decimal `json:"transfer_amount"`
	Commission              decimal.Decimal `json:"commission"`
	AmountWithoutCommission decimal.Decimal `json:"amount_without_commission"`
}

type ImportResult struct {
	Success    int      `json:"success"`
	Errors     []string `json:"errors"`
	ArchiveKey string   `json:"archive_key,omitempty"`
}

type CounterpartyKind string

const (
	CounterpartyTransfer CounterpartyKind = "transfer"
	CounterpartyReturn   CounterpartyKind = "return"
	CounterpartyCollect  CounterpartyKind = "collect"
)
