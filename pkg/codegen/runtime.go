package codegen

// Runtime-library entry points the generated object references as
// external, undefined symbols (§4.G: "External symbols reference the
// runtime library"). The runtime library is a separate hand-written
// artifact linked alongside this compiler's output (§6 treats it as an
// external collaborator); this package only emits calls against its
// documented contract, using the platform C ABI as §4.E's exception
// list requires for every `$`-prefixed symbol.
//
// Where §4.E leaves a choice between an inlined instruction sequence
// and a runtime call for a mechanical operation (its wording for
// division/modulo: "the runtime (or inline sequence) must adjust..."),
// this generator delegates list/str element access, concatenation, and
// list-literal construction to runtime calls rather than inlining their
// bit-level layout twice (once here, once in the runtime that must
// already implement the equivalent logic for dynamically-constructed
// lists). Div/mod adjustment remains inlined, since it is a few
// instructions the generator can emit directly at the call site; bounds
// checks happen inside the runtime element accessors below.
const (
	symAllocObj  = "$alloc_obj"
	symFreeObj   = "$free_obj"
	symRetain    = "$retain"     // (p) -> p; increments $ref, no-op on a None/0 pointer
	symRelease   = "$release"    // (p); decrements $ref, dispatches $dtor slot 0 at zero
	symStoreAttr = "$store_attr" // (obj, newval, off); obj[off] = retain(newval), release(old)

	symListGetItem = "$list_getitem" // (list, idx) -> element, bounds-checked; ref elements come back retained
	symListSetItem = "$list_setitem" // (list, idx, newval), bounds-checked; retains new, releases old for ref elements
	symStrGetItem  = "$str_getitem"  // (str, idx) -> new 1-byte str, bounds-checked
	symStrConcat   = "$str_concat"   // (a, b) -> new str
	symStrEq       = "$str_eq"       // (a, b) -> 0/1 byte-wise equality
	symListConcat  = "$list_concat"  // (proto, a, b) -> new list under the result type's prototype
	symNewList     = "$new_list"     // (proto, len) -> zeroed list object

	symPrintInt  = "$print_int"
	symPrintBool = "$print_bool"
	symPrintStr  = "$print_str"
	symInput     = "$input"
	symLenStr    = "$len_str"
	symLenList   = "$len_list"

	symDivZero    = "$div_zero"
	symOutOfBound = "$out_of_bound"
	symNoneOp     = "$none_op"

	symChocopyMain = "$chocopy_main"
	symMain        = "main"
	symObjectDtor  = "$object_dtor"
	symObjectInit  = "$object_init"
)
