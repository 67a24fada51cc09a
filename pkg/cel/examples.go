package cel

// GuardExpressionExamples are `when` guards accepted by cel payload filters.
var GuardExpressionExamples = map[string]string{
	"event_prefix":     `event_type.startsWith("compute.instance.exists")`,
	"has_region":       `has(payload.region) && payload.region != ""`,
	"tenant_in_list":   `payload.tenant_id in ["1001", "1002"]`,
	"publisher_suffix": `publisher_id.endsWith(".dfw1")`,
}

// TransformExpressionExamples are value expressions accepted by cel payload filters.
var TransformExpressionExamples = map[string]string{
	"lowercase_region": `payload.region.lowerAscii()`,
	"default_region":   `has(payload.region) ? payload.region : "DFW"`,
	"prefixed_tenant":  `"tenant-" + payload.tenant_id`,
	"os_type_string":   `string(payload.image_meta.com_rackspace__1__options)`,
	"first_image_id":   `payload.images[0].id`,
}
