package ledger

// SupplyChainABI is the interface of the deployed SupplyChain contract.
const SupplyChainABI = `[
  {"type":"function","name":"nextId","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"products","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[
     {"name":"id","type":"uint256"},
     {"name":"name","type":"string"},
     {"name":"origin","type":"string"},
     {"name":"createdAt","type":"uint256"},
     {"name":"currentStatus","type":"uint8"}]},
  {"type":"function","name":"getHistory","stateMutability":"view",
   "inputs":[{"name":"_id","type":"uint256"}],
   "outputs":[{"name":"","type":"uint8[]"},{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"createProduct","stateMutability":"nonpayable",
   "inputs":[{"name":"_name","type":"string"},{"name":"_origin","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"updateStatus","stateMutability":"nonpayable",
   "inputs":[{"name":"_id","type":"uint256"},{"name":"_status","type":"uint8"}],
   "outputs":[]}
]`

const (
	methodNextID        = "nextId"
	methodProducts      = "products"
	methodGetHistory    = "getHistory"
	methodCreateProduct = "createProduct"
	methodUpdateStatus  = "updateStatus"
)
