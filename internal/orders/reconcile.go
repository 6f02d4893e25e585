package orders

// reconcile keeps stored entries of live items, synthesises def for live
// items without one and drops entries of items no longer present.
func reconcile[T any](items []OrderItem, stored map[int64]T, def func(OrderItem) (T, bool)) map[int64]T {
	out := make(map[int64]T, len(items))
	for _, item := range items {
		if entry, ok := stored[item.ID]; ok {
			out[item.ID] = entry
			continue
		}
		if def == nil {
			continue
		}
		if entry, ok := def(item); ok {
			out[item.ID] = entry
		}
	}
	return out
}

// ReconcilePackaging aligns packaging entries with the live items.
func ReconcilePackaging(items []OrderItem, stored map[int64]PackagingDataItem) map[int64]PackagingDataItem {
	return reconcile(items, stored, func(OrderItem) (PackagingDataItem, bool) {
		return DefaultPackaging(), true
	})
}

// ReconcileVerification aligns verification entries with the live items.
func ReconcileVerification(items []OrderItem, stored map[int64]VerificationDataItem) map[int64]VerificationDataItem {
	return reconcile(items, stored, func(OrderItem) (VerificationDataItem, bool) {
		return VerificationDataItem{}, true
	})
}

// ReconcileAdditional aligns ERP code entries with the live items, seeding
// missing ones from the codes the item carries.
func ReconcileAdditional(items []OrderItem, stored map[int64]AdditionalDataItem) map[int64]AdditionalDataItem {
	return reconcile(items, stored, func(item OrderItem) (AdditionalDataItem, bool) {
		return item.Additional(), true
	})
}

// ReconcileReturns drops returns of items no longer present. Returns are
// created by the user only, so no defaults are synthesised.
func ReconcileReturns(items []OrderItem, stored map[int64]ReturnDataItem) map[int64]ReturnDataItem {
	return reconcile[ReturnDataItem](items, stored, nil)
}

// Reconcile aligns every side table with items. The result depends only on
// its inputs, so reconciling twice yields the same data.
func Reconcile(items []OrderItem, side SideData) SideData {
	return SideData{
		Version:      side.Version,
		Packaging:    ReconcilePackaging(items, side.Packaging),
		Verification: ReconcileVerification(items, side.Verification),
		Returns:      ReconcileReturns(items, side.Returns),
		Additional:   ReconcileAdditional(items, side.Additional),
	}
}

// Rekey moves side entries from the row ids before a product-row write to
// the ids the CRM assigned afterwards. before and after are matched by
// position; entries of zero ids are skipped.
func Rekey(side SideData, before, after []int64) SideData {
	mapping := make(map[int64]int64, len(before))
	for i, oldID := range before {
		if oldID == 0 || i >= len(after) {
			continue
		}
		mapping[oldID] = after[i]
	}
	return SideData{
		Version:      side.Version,
		Packaging:    rekey(side.Packaging, mapping),
		Verification: rekey(side.Verification, mapping),
		Returns:      rekeyReturns(side.Returns, mapping),
		Additional:   rekey(side.Additional, mapping),
	}
}

func rekey[T any](stored map[int64]T, mapping map[int64]int64) map[int64]T {
	out := make(map[int64]T, len(stored))
	for oldID, entry := range stored {
		if newID, ok := mapping[oldID]; ok {
			out[newID] = entry
		}
	}
	return out
}

func rekeyReturns(stored map[int64]ReturnDataItem, mapping map[int64]int64) map[int64]ReturnDataItem {
	out := rekey(stored, mapping)
	for id, entry := range out {
		entry.Item.ID = id
		out[id] = entry
	}
	return out
}

// MergeItems copies ERP codes from additional entries onto items.
func MergeItems(items []OrderItem, additional map[int64]AdditionalDataItem) []OrderItem {
	out := make([]OrderItem, len(items))
	for i, item := range items {
		if a, ok := additional[item.ID]; ok {
			item = item.WithAdditional(a)
		}
		out[i] = item
	}
	return out
}

func itemIDs(items []OrderItem) []int64 {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
